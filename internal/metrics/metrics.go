// Package metrics is a minimal facade the sync engine emits counters and
// histograms through. The default backend is a nop; the CLI installs a real
// backend (see the datadog subpackage) when one is configured.
package metrics

import "sync"

// Labels are free-form metric labels (e.g. {"table": "dim_film", "op": "full"}).
type Labels map[string]string

// Backend receives every metric emission. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a backend process-wide. Call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush submits any buffered metrics. Safe to call on shutdown regardless of
// which backend is installed.
func Flush() error {
	return current().Flush()
}
