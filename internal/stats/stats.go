package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"sitemirror/internal/limiter"
)

// Stats tracks bytes written during a crawl. It is safe for concurrent use.
type Stats struct {
	clock limiter.Timer
	start time.Time
	bytes atomic.Int64
	files atomic.Int64
}

// New starts the clock.
func New(clock limiter.Timer) *Stats {
	if clock == nil {
		clock = limiter.NewClock()
	}

	return &Stats{clock: clock, start: clock.Now()}
}

// Add records n transferred bytes.
func (s *Stats) Add(n int64) {
	s.bytes.Add(n)
}

// FileDone records a completed file.
func (s *Stats) FileDone() {
	s.files.Add(1)
}

// Bytes returns the total transferred so far.
func (s *Stats) Bytes() int64 {
	return s.bytes.Load()
}

// Files returns the number of files written.
func (s *Stats) Files() int64 {
	return s.files.Load()
}

// Start returns the crawl start time.
func (s *Stats) Start() time.Time {
	return s.start
}

// Elapsed returns the wall time since the crawl started.
func (s *Stats) Elapsed() time.Duration {
	return s.clock.Now().Sub(s.start)
}

// Throughput returns bytes per second, or 0 before any time has passed.
func (s *Stats) Throughput() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}

	return float64(s.Bytes()) / elapsed
}

// Failure is one FailureLog entry.
type Failure struct {
	URL   string
	Error string
}

// Failures is an append-only log keyed by URL where the first failure wins.
type Failures struct {
	mu      sync.Mutex
	index   map[string]struct{}
	entries []Failure
}

// NewFailures returns an empty log.
func NewFailures() *Failures {
	return &Failures{index: map[string]struct{}{}}
}

// Record stores err for url unless url already failed. It reports whether the entry was added.
func (f *Failures) Record(url string, err error) bool {
	if err == nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[url]; ok {
		return false
	}

	f.index[url] = struct{}{}
	f.entries = append(f.entries, Failure{URL: url, Error: err.Error()})

	return true
}

// Has reports whether url has failed.
func (f *Failures) Has(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.index[url]

	return ok
}

// List returns a copy of the entries in recording order.
func (f *Failures) List() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Failure, len(f.entries))
	copy(out, f.entries)

	return out
}

// Len returns the number of failed URLs.
func (f *Failures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.entries)
}
