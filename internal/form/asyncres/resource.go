// Package asyncres provides the generic dependent-fetch primitive behind
// identifier validation and fee quoting. A resource is driven by a key
// derived from the current form inputs plus an enabled flag; it exposes
// {data, loading, err} and guarantees that a response belonging to a
// superseded key is never written into visible state.
//
// Staleness is enforced by key-tagging: every fetch carries the key it was
// launched for, and a settling fetch is applied only if that key still
// equals the live key. Key equality already captures "has the input
// changed", so no sequence counter or lifecycle flag is needed.
package asyncres

import (
	"context"
	"sync"
)

// Snapshot is the externally visible state of a resource.
type Snapshot[T any] struct {
	Data    *T
	Loading bool
	Err     error
}

// FetchFunc executes the external call for a key.
type FetchFunc[K comparable, T any] func(ctx context.Context, key K) (T, error)

// Hooks receive lifecycle notifications, primarily for metrics and the
// session event log. Any hook may be nil.
type Hooks[K comparable] struct {
	OnStart  func(key K)
	OnSettle func(key K, err error)
	OnStale  func(key K)
}

// Resource is a key-driven asynchronous fetch with staleness suppression.
// At most one fetch is logically current at any time; starting a new one
// supersedes the previous one without transport-side cancellation.
type Resource[K comparable, T any] struct {
	mu     sync.Mutex
	fetch  FetchFunc[K, T]
	notify func()
	hooks  Hooks[K]

	enabled bool
	key     K
	loading bool

	// lastLaunched is tracked separately from key so a disabled period
	// does not forget which fetch already ran.
	lastLaunched K
	launched     bool

	data     *T
	dataKey  K
	haveData bool

	err    error
	errKey K

	wg sync.WaitGroup
}

// New creates a resource around the given fetch function.
func New[K comparable, T any](fetch FetchFunc[K, T]) *Resource[K, T] {
	return &Resource[K, T]{fetch: fetch}
}

// Notify registers a callback invoked after every visible state change.
// Must be set before the first Update.
func (r *Resource[K, T]) Notify(fn func()) { r.notify = fn }

// WithHooks attaches lifecycle hooks. Must be set before the first Update.
func (r *Resource[K, T]) WithHooks(hooks Hooks[K]) { r.hooks = hooks }

// Update feeds the resource the current key and enabled flag. When enabled
// and the key differs from the last launched fetch, a new fetch starts.
// Disabling does not erase settled data; it only masks it, so re-enabling
// with an unchanged key does not refetch.
func (r *Resource[K, T]) Update(ctx context.Context, key K, enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.key = key
	if !enabled {
		r.mu.Unlock()
		r.changed()
		return
	}

	if r.launched && r.key == r.lastLaunched {
		r.mu.Unlock()
		r.changed()
		return
	}

	r.lastLaunched = key
	r.launched = true
	r.loading = true
	start := r.hooks.OnStart
	fetch := r.fetch
	r.wg.Add(1)
	r.mu.Unlock()

	if start != nil {
		start(key)
	}
	go func() {
		defer r.wg.Done()
		data, err := fetch(ctx, key)
		r.settle(key, data, err)
	}()
	r.changed()
}

// settle applies a finished fetch if its launch key is still the live key.
func (r *Resource[K, T]) settle(launchKey K, data T, err error) {
	r.mu.Lock()
	if launchKey != r.key {
		// Dropped. If no newer fetch superseded this one, forget the
		// launch so a later Update with the same key fetches again
		// instead of waiting on a result that was already discarded.
		if r.launched && launchKey == r.lastLaunched {
			r.launched = false
			r.loading = false
		}
		stale := r.hooks.OnStale
		r.mu.Unlock()
		if stale != nil {
			stale(launchKey)
		}
		return
	}

	r.loading = false
	if err != nil {
		r.err = err
		r.errKey = launchKey
		r.haveData = false
		r.data = nil
	} else {
		r.data = &data
		r.dataKey = launchKey
		r.haveData = true
		r.err = nil
	}
	settled := r.hooks.OnSettle
	r.mu.Unlock()

	if settled != nil {
		settled(launchKey, err)
	}
	r.changed()
}

// Snapshot returns the visible state. While disabled the resource reads as
// empty regardless of stored data; data or errors tagged with a key other
// than the live key are treated as absent.
func (r *Resource[K, T]) Snapshot() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return Snapshot[T]{}
	}
	snap := Snapshot[T]{}
	if r.loading && r.lastLaunched == r.key {
		snap.Loading = true
	}
	if r.haveData && r.dataKey == r.key {
		snap.Data = r.data
	}
	if r.err != nil && r.errKey == r.key {
		snap.Err = r.err
	}
	return snap
}

// Reset discards all stored state, including settled data. Used on session
// teardown and cascade resets that must not leak a previous result.
func (r *Resource[K, T]) Reset() {
	r.mu.Lock()
	var zeroKey K
	r.enabled = false
	r.key = zeroKey
	r.lastLaunched = zeroKey
	r.launched = false
	r.loading = false
	r.data = nil
	r.haveData = false
	r.dataKey = zeroKey
	r.err = nil
	r.errKey = zeroKey
	r.mu.Unlock()
	r.changed()
}

// Wait blocks until all launched fetches have settled or been dropped.
// Intended for tests.
func (r *Resource[K, T]) Wait() { r.wg.Wait() }

func (r *Resource[K, T]) changed() {
	if r.notify != nil {
		r.notify()
	}
}
