// Package feequote resolves network/service fee breakdowns for a pending
// transaction. The resolver is an async resource keyed by (source,
// destination, settled amount); while a quote is loading, displayed
// fee/total figures must show a placeholder rather than a stale number,
// which callers get for free because the snapshot masks superseded keys.
package feequote

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/paydeck/formflow/internal/app/domain/draft"
	"github.com/paydeck/formflow/internal/form/asyncres"
)

// Direction is a static property of the screen hosting the form, not of
// the resolver state: it decides how the total debit is derived.
type Direction int32

const (
	// DirectionWithdrawal debits amount plus network fee from the source.
	DirectionWithdrawal Direction = iota

	// DirectionExchange credits the receive side net of both fees.
	DirectionExchange
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionWithdrawal:
		return "withdrawal"
	case DirectionExchange:
		return "exchange"
	default:
		return "withdrawal"
	}
}

// ParseDirection converts a string to a Direction, defaulting to
// withdrawal.
func ParseDirection(raw string) Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "exchange", "receive":
		return DirectionExchange
	default:
		return DirectionWithdrawal
	}
}

// QuoteFunc performs the external fee computation for a key.
type QuoteFunc func(ctx context.Context, key draft.FeeKey) (draft.FeeBreakdown, error)

// Resolver binds an async resource to the current fee key.
type Resolver struct {
	direction Direction
	res       *asyncres.Resource[draft.FeeKey, draft.FeeBreakdown]
}

// New creates a resolver for the given screen direction.
func New(direction Direction, fn QuoteFunc) *Resolver {
	return &Resolver{
		direction: direction,
		res:       asyncres.New(asyncres.FetchFunc[draft.FeeKey, draft.FeeBreakdown](fn)),
	}
}

// Notify registers a callback invoked after every visible state change.
func (r *Resolver) Notify(fn func()) { r.res.Notify(fn) }

// WithHooks attaches resource lifecycle hooks.
func (r *Resolver) WithHooks(hooks asyncres.Hooks[draft.FeeKey]) { r.res.WithHooks(hooks) }

// Direction returns the screen direction.
func (r *Resolver) Direction() Direction { return r.direction }

// Update feeds the resolver the current inputs. The amount must be the
// settled (debounced) value; a quote fires only when all three parts are
// non-empty.
func (r *Resolver) Update(ctx context.Context, source, destination, amount string) {
	key := draft.FeeKey{Source: source, Destination: destination, Amount: amount}
	enabled := key.Source != "" && key.Destination != "" && key.Amount != ""
	r.res.Update(ctx, key, enabled)
}

// Loading reports whether a quote for the live key is in flight.
func (r *Resolver) Loading() bool { return r.res.Snapshot().Loading }

// Quote returns the authoritative fee breakdown, or nil.
func (r *Resolver) Quote() *draft.FeeBreakdown { return r.res.Snapshot().Data }

// Err returns the quote failure for the live key, or nil. A failed quote
// blocks display of a total but not submission: upstream computes fees
// authoritatively at submit time.
func (r *Resolver) Err() error { return r.res.Snapshot().Err }

// TotalDebit derives the figure shown as the total, from the quoted fees
// and the amount the quote was computed for. The second return is false
// while no authoritative quote exists (loading, absent, or errored), in
// which case the caller must render a placeholder.
func (r *Resolver) TotalDebit() (decimal.Decimal, bool) {
	quote := r.res.Snapshot().Data
	if quote == nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(quote.Key.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	switch r.direction {
	case DirectionExchange:
		return amount.Sub(quote.NetworkFee).Sub(quote.ServiceFee), true
	default:
		return amount.Add(quote.NetworkFee), true
	}
}

// Reset discards all resolver state.
func (r *Resolver) Reset() { r.res.Reset() }

// Wait blocks until in-flight quotes settle. Intended for tests.
func (r *Resolver) Wait() { r.res.Wait() }
