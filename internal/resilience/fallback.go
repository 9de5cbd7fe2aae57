package resilience

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or is
// skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures how a [FallbackGroup] obtains breakers and
// reports attempts.
type FallbackConfig struct {
	// CircuitBreaker is the template for breakers the group creates itself.
	// Ignored when Breakers is set.
	CircuitBreaker CircuitBreakerConfig

	// Breakers, if set, supplies the entry breakers by name so breaker state
	// outlives the group.
	Breakers *BreakerSet

	// OnResult, if set, is called after every entry attempt with the entry
	// name and its error: nil on success, [ErrCircuitOpen] when skipped.
	OnResult func(name string, err error)
}

func (cfg FallbackConfig) breaker(name string) *CircuitBreaker {
	if cfg.Breakers != nil {
		return cfg.Breakers.Get(name)
	}
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = name
	return NewCircuitBreaker(cbCfg)
}

// BreakerSet lazily creates one [CircuitBreaker] per name from a shared
// template.
type BreakerSet struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet returns an empty set whose breakers use cfg. cfg.Name is
// replaced by the name passed to [BreakerSet.Get].
func NewBreakerSet(cfg CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker registered under name, creating it on first use.
func (s *BreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[name]
	if !ok {
		cbCfg := s.cfg
		cbCfg.Name = name
		cb = NewCircuitBreaker(cbCfg)
		s.breakers[name] = cb
	}
	return cb
}

// States returns the current state of every breaker in the set by name.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.State()
	}
	return out
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and ordered fallbacks of the same type.
// Entries are tried in registration order; an entry whose breaker is open is
// skipped. Register all entries before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: fg.cfg.breaker(name),
	})
}

// Len returns the number of entries, primary included.
func (fg *FallbackGroup[T]) Len() int {
	return len(fg.entries)
}

// Primary returns the first entry.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Execute tries fn against each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry until one succeeds and
// returns its result. When every entry fails the error wraps both
// [ErrAllFailed] and the last entry's error.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if fg.cfg.OnResult != nil {
			fg.cfg.OnResult(entry.name, err)
		}
		if err == nil {
			return result, nil
		}
		lastErr = fmt.Errorf("%s: %w", entry.name, err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
