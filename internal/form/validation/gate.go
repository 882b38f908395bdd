// Package validation implements the tri-state identifier validation gate.
// The gate is an async resource keyed by (provider, package, settled
// identifier), enabled only when all three are non-empty; its status is
// derived from the resource snapshot, so editing any input immediately
// demotes a previous result to unresolved instead of leaving a stale
// success visible.
package validation

import (
	"context"

	"github.com/paydeck/formflow/internal/app/domain/draft"
	"github.com/paydeck/formflow/internal/form/asyncres"
)

// Status is the gate's derived state.
type Status int32

const (
	// StatusUnresolved means the gate has not been attempted: a required
	// input is still empty, or the inputs changed since the last attempt.
	StatusUnresolved Status = iota

	// StatusPending means a validation fetch is in flight.
	StatusPending

	// StatusSuccess means upstream confirmed the identifier.
	StatusSuccess

	// StatusFailure means upstream explicitly rejected the identifier.
	StatusFailure
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusUnresolved:
		return "unresolved"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	default:
		return "unresolved"
	}
}

// ValidateFunc performs the external identifier validation for a key.
type ValidateFunc func(ctx context.Context, key draft.ValidationKey) (draft.ValidationResult, error)

// Gate binds an async resource to the current validation key.
type Gate struct {
	res *asyncres.Resource[draft.ValidationKey, draft.ValidationResult]
}

// New creates a gate around the given validator.
func New(fn ValidateFunc) *Gate {
	return &Gate{res: asyncres.New(asyncres.FetchFunc[draft.ValidationKey, draft.ValidationResult](fn))}
}

// Notify registers a callback invoked after every visible state change.
func (g *Gate) Notify(fn func()) { g.res.Notify(fn) }

// WithHooks attaches resource lifecycle hooks.
func (g *Gate) WithHooks(hooks asyncres.Hooks[draft.ValidationKey]) { g.res.WithHooks(hooks) }

// Update feeds the gate the current inputs. The identifier must be the
// settled (debounced) value, not the raw field contents.
func (g *Gate) Update(ctx context.Context, providerCode, packageCode, identifier string) {
	key := draft.ValidationKey{
		ProviderCode: providerCode,
		PackageCode:  packageCode,
		Identifier:   identifier,
	}
	g.res.Update(ctx, key, !key.Zero())
}

// Status derives the gate state from the resource snapshot.
func (g *Gate) Status() Status {
	snap := g.res.Snapshot()
	switch {
	case snap.Loading:
		return StatusPending
	case snap.Data != nil:
		return StatusSuccess
	case snap.Err != nil:
		return StatusFailure
	default:
		return StatusUnresolved
	}
}

// Result returns the authoritative validation result, or nil.
func (g *Gate) Result() *draft.ValidationResult {
	return g.res.Snapshot().Data
}

// ResolvedName returns the upstream-confirmed name shown to the user, or
// "" when the gate is not in success.
func (g *Gate) ResolvedName() string {
	if data := g.res.Snapshot().Data; data != nil {
		return data.ResolvedName
	}
	return ""
}

// Err returns the rejection error when the gate is in failure, or nil.
func (g *Gate) Err() error {
	return g.res.Snapshot().Err
}

// Reset discards all gate state.
func (g *Gate) Reset() { g.res.Reset() }

// Wait blocks until in-flight validations settle. Intended for tests.
func (g *Gate) Wait() { g.res.Wait() }
