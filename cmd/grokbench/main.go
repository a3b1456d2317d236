// Command grokbench measures Grok compile and match throughput. It
// generates synthetic lines matching a configurable spread of patterns
// and reports matches per second across a worker pool, the closest
// equivalent to a production grokd match pipeline without the export
// side.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grokworks/grok"
	"github.com/grokworks/grok/catalog"
)

var (
	template   = flag.String("template", "%{COMMONAPACHELOG}", "Grok template to benchmark")
	duration   = flag.Duration("duration", 10*time.Second, "How long to run the benchmark")
	workers    = flag.Int("workers", 8, "Number of concurrent matching goroutines")
	sampleSize = flag.Int("samples", 64, "Number of synthetic lines generated up front, matched in round robin")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "grokbench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	compiler := grok.NewCompiler(grok.WithReservedKeywordRenaming(true))
	defer compiler.Close()

	if err := compiler.RegisterDefaultPatterns(catalog.Default()); err != nil {
		return fmt.Errorf("registering base patterns: %w", err)
	}

	g, err := compiler.Compile(*template)
	if err != nil {
		return fmt.Errorf("compiling template: %w", err)
	}

	lines := syntheticLines(g, *sampleSize)
	if len(lines) == 0 {
		return fmt.Errorf("no synthetic lines generated; pass -template for a pattern this tool knows how to fabricate")
	}

	var (
		matched   uint64
		unmatched uint64
		wg        sync.WaitGroup
	)

	stop := make(chan struct{})
	start := time.Now()

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + start.UnixNano()))
			for {
				select {
				case <-stop:
					return
				default:
				}
				line := lines[rng.Intn(len(lines))]
				if g.MatchString(line) {
					atomic.AddUint64(&matched, 1)
				} else {
					atomic.AddUint64(&unmatched, 1)
				}
			}
		}(i)
	}

	time.Sleep(*duration)
	close(stop)
	wg.Wait()

	elapsed := time.Since(start)
	total := matched + unmatched
	fmt.Printf("template:   %s\n", *template)
	fmt.Printf("workers:    %d\n", *workers)
	fmt.Printf("duration:   %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("matched:    %d\n", matched)
	fmt.Printf("unmatched:  %d\n", unmatched)
	fmt.Printf("throughput: %.0f matches/sec\n", float64(total)/elapsed.Seconds())
	return nil
}

// syntheticLines fabricates a handful of lines likely to match common
// patterns so the benchmark has something realistic to chew on without
// requiring a corpus file. Unknown templates fall back to an empty set,
// which run() reports as a usage error.
func syntheticLines(g *grok.Grok, n int) []string {
	generators := []func() string{
		func() string {
			return fmt.Sprintf("127.0.0.1 - frank [10/Oct/2023:13:55:%02d -0700] \"GET /apache_pb.gif HTTP/1.0\" 200 %d",
				rand.Intn(60), 1000+rand.Intn(9000))
		},
		func() string {
			return fmt.Sprintf("2023-10-10T13:55:%02d.000Z %s sshd[%d]: Accepted publickey for root from 10.0.0.%d port %d ssh2",
				rand.Intn(60), hostnames[rand.Intn(len(hostnames))], 1000+rand.Intn(9000), rand.Intn(255), 1024+rand.Intn(40000))
		},
	}

	var lines []string
	for len(lines) < n {
		for _, gen := range generators {
			candidate := gen()
			if g.MatchString(candidate) {
				lines = append(lines, candidate)
			}
			if len(lines) >= n {
				break
			}
		}
		if len(lines) == 0 {
			// Neither synthetic generator matches this template; give up
			// rather than spinning forever.
			return nil
		}
	}
	return lines
}

var hostnames = []string{"web01", "web02", "db01", "cache01"}
