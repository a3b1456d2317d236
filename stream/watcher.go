package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/grokworks/grok"
	"github.com/grokworks/grok/internal/checkpoint"
	"github.com/grokworks/grok/internal/dlq"
	"github.com/grokworks/grok/internal/logging"
	"github.com/grokworks/grok/pkg/types"
)

// Config configures a Watcher.
type Config struct {
	// Paths are the files to tail.
	Paths []string
	// Template names the compiled Grok this Watcher matches lines against.
	Template string
	Matcher  *grok.Grok

	// RateLimit caps lines read per second per file, applied before
	// matching so non-matching lines count too; zero disables
	// limiting. Burst is always twice RateLimit, mirroring the syslog
	// input's client limiter.
	RateLimit float64
	// PollInterval is how often a file with no new data is re-checked for
	// growth or rotation. Default 250ms.
	PollInterval time.Duration

	Checkpoint *checkpoint.Manager
	DLQ        *dlq.DeadLetterQueue
	Pool       PoolConfig
	// Output receives every successfully matched line. Required.
	Output chan<- types.Record

	Logger *logging.Logger
}

// Watcher tails a set of files with a reopened bufio.Reader instead of an
// inotify watch (the regex engine gives no stronger delivery guarantee
// than "eventually reads a line that was written", so polling suffices),
// rate-limits the lines it admits, and distributes Grok.Capture calls
// across a WorkerPool. Lines that fail to match are handed to a DLQ
// instead of being silently dropped.
type Watcher struct {
	cfg    Config
	logger *logging.Logger
	pool   *WorkerPool

	mu    sync.Mutex
	files map[string]*tailedFile

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type tailedFile struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	offset int64
	inode  uint64
}

// New returns a Watcher ready to Start.
func New(cfg Config) (*Watcher, error) {
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("stream: Config.Matcher is required")
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("stream: Config.Output is required")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:      cfg,
		logger:   cfg.Logger.WithComponent("stream.watcher"),
		files:    make(map[string]*tailedFile),
		limiters: make(map[string]*rate.Limiter),
		ctx:      ctx,
		cancel:   cancel,
	}
	w.pool = NewWorkerPool(cfg.Pool, w.MatchLine)
	return w, nil
}

// Start launches the worker pool, opens every configured path, and begins
// tailing it.
func (w *Watcher) Start() error {
	w.pool.Start()

	for _, path := range w.cfg.Paths {
		if err := w.openFile(path); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("failed to open file")
		}
	}
	return nil
}

// Stop cancels tailing, waits for in-flight reads and matches to finish,
// and checkpoints the final offset of every open file.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.pool.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, tf := range w.files {
		if w.cfg.Checkpoint != nil {
			w.cfg.Checkpoint.UpdatePosition(path, tf.offset, tf.inode)
		}
		tf.file.Close()
	}
}

// Metrics returns the underlying worker pool's throughput metrics.
func (w *Watcher) Metrics() PoolMetrics {
	return w.pool.Metrics()
}

func (w *Watcher) openFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat %s: %w", path, err)
	}
	inode := inodeOf(stat)

	var offset int64
	if w.cfg.Checkpoint != nil {
		if pos, ok := w.cfg.Checkpoint.GetPosition(path); ok && pos.Inode == inode {
			offset = pos.Offset
			w.logger.Info().Str("path", path).Int64("offset", offset).Msg("resuming from checkpoint")
		} else {
			offset, err = file.Seek(0, io.SeekEnd)
			if err != nil {
				file.Close()
				return fmt.Errorf("seeking %s to end: %w", path, err)
			}
		}
	} else {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return fmt.Errorf("seeking %s to end: %w", path, err)
		}
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return fmt.Errorf("seeking %s to offset %d: %w", path, offset, err)
	}

	tf := &tailedFile{path: path, file: file, reader: bufio.NewReader(file), offset: offset, inode: inode}

	w.mu.Lock()
	w.files[path] = tf
	w.mu.Unlock()

	w.wg.Add(1)
	go w.readLoop(tf)

	return nil
}

// reopen closes the stale handle (if any) and reopens path from the start,
// the rotation case a log shipper has to handle: logrotate/copytruncate
// replaced the inode out from under the reader.
func (w *Watcher) reopen(path string) error {
	w.mu.Lock()
	tf, ok := w.files[path]
	w.mu.Unlock()

	if ok {
		if w.cfg.Checkpoint != nil {
			w.cfg.Checkpoint.UpdatePosition(path, tf.offset, tf.inode)
		}
		tf.file.Close()
	}

	return w.openFile(path)
}

func (w *Watcher) readLoop(tf *tailedFile) {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		line, err := tf.reader.ReadString('\n')
		if len(line) > 0 {
			tf.offset += int64(len(line))
			w.handleLine(tf.path, trimNewline(line))

			if w.cfg.Checkpoint != nil && tf.offset%65536 == 0 {
				w.cfg.Checkpoint.UpdatePosition(tf.path, tf.offset, tf.inode)
			}
		}

		if err == nil {
			continue
		}
		if err != io.EOF {
			w.logger.Error().Err(err).Str("path", tf.path).Msg("error reading file")
			return
		}

		// At EOF: decide whether to keep polling this handle or the file
		// was rotated out from under us.
		select {
		case <-time.After(w.cfg.PollInterval):
		case <-w.ctx.Done():
			return
		}

		stat, statErr := os.Stat(tf.path)
		if statErr != nil {
			// File gone (removed, or not yet recreated after rotation).
			// Keep polling; a future stat may succeed once it reappears.
			continue
		}
		if inodeOf(stat) != tf.inode {
			w.logger.Info().Str("path", tf.path).Msg("rotation detected, reopening")
			if err := w.reopen(tf.path); err != nil {
				w.logger.Error().Err(err).Str("path", tf.path).Msg("failed to reopen rotated file")
			}
			return
		}
	}
}

func (w *Watcher) handleLine(source, text string) {
	if text == "" {
		return
	}

	if limiter := w.rateLimiter(source); limiter != nil && !limiter.Allow() {
		w.logger.Warn().Str("source", source).Msg("rate limit exceeded, dropping line")
		return
	}

	line := Line{Source: source, Text: text}
	if err := w.pool.SubmitAsync(line); err != nil {
		w.logger.Warn().Err(err).Str("source", source).Msg("failed to submit line to worker pool")
	}
}

func (w *Watcher) rateLimiter(source string) *rate.Limiter {
	if w.cfg.RateLimit <= 0 {
		return nil
	}

	w.limitersMu.Lock()
	defer w.limitersMu.Unlock()

	limiter, ok := w.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.RateLimit), int(w.cfg.RateLimit*2))
		w.limiters[source] = limiter
	}
	return limiter
}

// MatchLine implements LineFunc: it runs the Watcher's compiled Grok
// against line.Text, publishes a match to Output, and enqueues a failed
// match to the DLQ (if configured) instead of dropping it.
func (w *Watcher) MatchLine(ctx context.Context, line Line) error {
	match := w.cfg.Matcher.Match(line.Text)
	if !match.Matched() {
		if w.cfg.DLQ != nil {
			_ = w.cfg.DLQ.Enqueue(line.Text, line.Source, w.cfg.Template, errNoMatch, nil)
		}
		return nil
	}

	record := types.Record{
		Timestamp: time.Now(),
		Source:    line.Source,
		Template:  w.cfg.Template,
		Capture:   match.Capture(),
		Raw:       line.Text,
	}

	select {
	case w.cfg.Output <- record:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func inodeOf(fi os.FileInfo) uint64 {
	if stat, ok := fi.Sys().(*syscall.Stat_t); ok {
		return stat.Ino
	}
	return 0
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	n = len(s)
	if n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
