// Package draft holds the ephemeral per-form artifacts: validation
// results, fee quotes, and the transaction draft assembled at submission
// time. Everything here is scoped to one form session and discarded when
// the session ends.
package draft

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValidationKey is the input tuple a validation result was computed for.
// A result whose key no longer matches the live form inputs is stale and
// treated as absent.
type ValidationKey struct {
	ProviderCode string `json:"provider_code"`
	PackageCode  string `json:"package_code"`
	Identifier   string `json:"identifier"`
}

// Zero reports whether any component of the key is empty.
func (k ValidationKey) Zero() bool {
	return k.ProviderCode == "" || k.PackageCode == "" || k.Identifier == ""
}

// ValidationResult is a settled upstream validation of an identifier.
type ValidationResult struct {
	Key          ValidationKey `json:"key"`
	ResolvedName string        `json:"resolved_name"`
}

// FeeKey is the input tuple a fee quote was computed for. The same
// staleness rule as ValidationKey applies.
type FeeKey struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// FeeBreakdown is a settled fee quote for a pending transaction.
type FeeBreakdown struct {
	Key        FeeKey          `json:"key"`
	NetworkFee decimal.Decimal `json:"network_fee"`
	ServiceFee decimal.Decimal `json:"service_fee"`
}

// TransactionDraft is the aggregate handed to the submit call. It is
// constructed only after the eligibility evaluator allows submission.
type TransactionDraft struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	CategoryCode string          `json:"category_code"`
	ProviderCode string          `json:"provider_code"`
	PackageCode  string          `json:"package_code,omitempty"`
	Identifier   string          `json:"identifier"`
	ResolvedName string          `json:"resolved_name,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	NetworkFee   decimal.Decimal `json:"network_fee"`
	ServiceFee   decimal.Decimal `json:"service_fee"`
	TotalDebit   decimal.Decimal `json:"total_debit"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Receipt is the upstream acknowledgement of a submitted draft.
type Receipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}
