// Package eligibility implements the pure submit gate. Evaluate is a
// function of the full current form state and is recomputed on every state
// change, so the caller can enable or disable the submit action
// reactively. Checks run in a fixed order and the first failing check
// wins, which keeps the blocking reason deterministic and testable.
package eligibility

import (
	"github.com/shopspring/decimal"

	"github.com/paydeck/formflow/internal/form/validation"
)

// Blocking reasons, one per failing check. Fixed strings: assertions in
// tests and the UI layer key off them.
const (
	ReasonCategoryRequired   = "category required"
	ReasonProviderRequired   = "provider required"
	ReasonPackageRequired    = "package required"
	ReasonPackagesErrored    = "package catalog unavailable"
	ReasonIdentifierRequired = "identifier required"
	ReasonAmountRequired     = "amount required"
	ReasonAmountInvalid      = "amount invalid"
	ReasonAmountNotPositive  = "amount not positive"
	ReasonValidationPending  = "validation in progress"
	ReasonValidationFailed   = "invalid customer"
	ReasonInsufficientFunds  = "insufficient balance"
)

// Input is the flattened form state the gate evaluates.
type Input struct {
	CategorySelected bool
	ProviderSelected bool
	PackageSelected  bool

	PackagesRequired bool
	PackagesErrored  bool

	// Identifier and Amount are the raw field contents, not the debounced
	// values: an empty or malformed field blocks immediately.
	Identifier string
	Amount     string

	Validation validation.Status

	// BalanceCeiling is the known spendable ceiling (wallet balance), or
	// nil when no ceiling is known.
	BalanceCeiling *decimal.Decimal
}

// Decision is the gate's verdict.
type Decision struct {
	CanSubmit      bool   `json:"can_submit"`
	BlockingReason string `json:"blocking_reason,omitempty"`

	// Permissive marks an allowed submission whose identifier validation
	// never reached success. Tolerated when packages are not required,
	// trusting upstream to perform final validation; counted separately so
	// the policy can be tightened later without guessing intent.
	Permissive bool `json:"permissive,omitempty"`
}

func blocked(reason string) Decision {
	return Decision{BlockingReason: reason}
}

// Evaluate runs the ordered checks and returns the verdict.
func Evaluate(in Input) Decision {
	// 1. Required selections.
	if !in.CategorySelected {
		return blocked(ReasonCategoryRequired)
	}
	if !in.ProviderSelected {
		return blocked(ReasonProviderRequired)
	}
	if in.PackagesRequired && !in.PackageSelected {
		return blocked(ReasonPackageRequired)
	}

	// 2. Package catalog must not have errored.
	if in.PackagesErrored {
		return blocked(ReasonPackagesErrored)
	}

	// 3. Identifier present.
	if in.Identifier == "" {
		return blocked(ReasonIdentifierRequired)
	}

	// 4. Amount present, numeric, positive.
	if in.Amount == "" {
		return blocked(ReasonAmountRequired)
	}
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return blocked(ReasonAmountInvalid)
	}
	if !amount.IsPositive() {
		return blocked(ReasonAmountNotPositive)
	}

	// 5. Validation must have succeeded whenever a package is mandatory.
	if in.PackagesRequired {
		switch in.Validation {
		case validation.StatusSuccess:
		case validation.StatusFailure:
			return blocked(ReasonValidationFailed)
		default:
			return blocked(ReasonValidationPending)
		}
	} else if in.Validation == validation.StatusFailure {
		// Even on the permissive path, an explicit rejection blocks.
		return blocked(ReasonValidationFailed)
	}

	// 6. Known balance ceiling.
	if in.BalanceCeiling != nil && amount.Cmp(*in.BalanceCeiling) > 0 {
		return blocked(ReasonInsufficientFunds)
	}

	return Decision{
		CanSubmit:  true,
		Permissive: !in.PackagesRequired && in.Validation != validation.StatusSuccess,
	}
}
