// Command grokctl compiles a single Grok template and matches it against
// input, either one line given on the command line or stdin piped in.
// It exists for ad hoc pattern debugging outside a running grokd daemon.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grokworks/grok"
	"github.com/grokworks/grok/catalog"
)

var (
	template       = flag.String("template", "", "Grok template to compile, e.g. %{COMMONAPACHELOG}")
	patternFile    = flag.String("pattern-file", "", "Path to an additional pattern file to register before compiling")
	patternsDir    = flag.String("patterns-dir", "", "Directory of pattern files to register before compiling")
	line           = flag.String("line", "", "A single line to match; reads stdin line by line when omitted")
	renameReserved = flag.Bool("rename-reserved", true, "Rename reserved capture names (timestamp, message, ...) to their log_ forms")
	exposeAnon     = flag.Bool("expose-anonymous", false, "Expose anonymous %{PATTERN} references in the capture map")
	showPattern    = flag.Bool("show-regexp", false, "Print the compiled regexp source instead of matching")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "grokctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *template == "" {
		return fmt.Errorf("-template is required")
	}

	opts := []grok.CompilerOption{
		grok.WithReservedKeywordRenaming(*renameReserved),
		grok.WithExposeAnonymousCaptures(*exposeAnon),
	}
	compiler := grok.NewCompiler(opts...)
	defer compiler.Close()

	if err := compiler.RegisterDefaultPatterns(catalog.Default()); err != nil {
		return fmt.Errorf("registering base patterns: %w", err)
	}

	if *patternsDir != "" {
		repo := catalog.NewRepository(catalog.WithSource(catalog.NewDirSource(*patternsDir)))
		if err := compiler.RegisterAllPatterns(repo); err != nil {
			return fmt.Errorf("registering patterns from %s: %w", *patternsDir, err)
		}
	}
	if *patternFile != "" {
		f, err := os.Open(*patternFile)
		if err != nil {
			return fmt.Errorf("opening pattern file: %w", err)
		}
		defer f.Close()
		if err := compiler.RegisterReader(*patternFile, f); err != nil {
			return fmt.Errorf("registering pattern file: %w", err)
		}
	}

	g, err := compiler.Compile(*template)
	if err != nil {
		return fmt.Errorf("compiling template: %w", err)
	}

	if *showPattern {
		fmt.Println(g.Regexp().String())
		return nil
	}

	if *line != "" {
		return matchAndPrint(g, *line)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if text == "" {
			continue
		}
		if err := matchAndPrint(g, text); err != nil {
			fmt.Fprintf(os.Stderr, "grokctl: %v\n", err)
		}
	}
	return scanner.Err()
}

func matchAndPrint(g *grok.Grok, input string) error {
	match := g.Match(input)
	if !match.Matched() {
		fmt.Printf("%s\tno match\n", input)
		return nil
	}
	out, err := json.Marshal(match.Capture())
	if err != nil {
		return fmt.Errorf("encoding capture: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
