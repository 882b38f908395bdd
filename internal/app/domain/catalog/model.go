// Package catalog holds the read-only catalog entities a transaction form
// selects from. Entries are sourced from upstream listings and never
// mutated locally.
package catalog

import "github.com/shopspring/decimal"

// Category is a top-level classification of a transaction type, such as a
// bill category or a crypto asset class.
type Category struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Provider is an entity scoped to a category: a biller, or a
// currency/network pair. Selecting a provider is only valid when its
// parent category is selected.
type Provider struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CategoryCode string `json:"category_code"`
}

// Package is an entity scoped to a provider: a data bundle or a face-value
// range. Some providers legitimately have none.
type Package struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	ProviderCode string `json:"provider_code"`

	// Amount is a fixed face amount carried by some packages. When set,
	// selecting the package pre-fills the form's amount field with it as a
	// one-way default.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}
