// Package selection implements the cascading selection state of a
// transaction form: category -> provider -> package, plus the free-text
// identifier and amount fields. Changing any link clears everything
// downstream of it; upstream links are retained.
package selection

import (
	"fmt"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
)

// PackagesStatus tracks the outcome of the provider's package listing.
type PackagesStatus int32

const (
	// PackagesUnknown means no listing has completed for the current
	// provider.
	PackagesUnknown PackagesStatus = iota

	// PackagesLoaded means the listing succeeded (possibly empty).
	PackagesLoaded

	// PackagesErrored means the listing failed. This is a terminal state
	// for the current provider that blocks submission outright: downstream
	// systems need a package reference to process payment, and without a
	// listing it cannot be known whether one is required.
	PackagesErrored
)

// String returns the string representation of the status.
func (s PackagesStatus) String() string {
	switch s {
	case PackagesUnknown:
		return "unknown"
	case PackagesLoaded:
		return "loaded"
	case PackagesErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// State is the mutable field state of one form. It is a plain reducer:
// callers apply transitions and read derived flags; it performs no I/O.
type State struct {
	category *catalog.Category
	provider *catalog.Provider
	pkg      *catalog.Package

	identifier string
	amount     string

	packages       []catalog.Package
	packagesStatus PackagesStatus
}

// New creates an empty selection state.
func New() *State { return &State{} }

// SelectCategory sets the category and clears provider, package,
// identifier, amount, and the package listing.
func (s *State) SelectCategory(c catalog.Category) {
	s.category = &c
	s.provider = nil
	s.pkg = nil
	s.identifier = ""
	s.amount = ""
	s.packages = nil
	s.packagesStatus = PackagesUnknown
}

// SelectProvider sets the provider and clears package, identifier, amount,
// and the package listing. The category is retained. It is an error to
// select a provider before a category, or one belonging to a different
// category.
func (s *State) SelectProvider(p catalog.Provider) error {
	if s.category == nil {
		return fmt.Errorf("provider %q selected before category", p.Code)
	}
	if p.CategoryCode != "" && p.CategoryCode != s.category.Code {
		return fmt.Errorf("provider %q does not belong to category %q", p.Code, s.category.Code)
	}
	s.provider = &p
	s.pkg = nil
	s.identifier = ""
	s.amount = ""
	s.packages = nil
	s.packagesStatus = PackagesUnknown
	return nil
}

// SelectPackage sets the package. It is an error to select a package
// before a provider, or one outside the current listing. If the package
// carries a fixed face amount, the amount field is pre-filled with it as a
// one-way default; the user may still overwrite it.
func (s *State) SelectPackage(p catalog.Package) error {
	if s.provider == nil {
		return fmt.Errorf("package %q selected before provider", p.Code)
	}
	if s.packagesStatus == PackagesLoaded {
		found := false
		for _, known := range s.packages {
			if known.Code == p.Code {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("package %q not in listing for provider %q", p.Code, s.provider.Code)
		}
	}
	s.pkg = &p
	if p.Amount != nil {
		s.amount = p.Amount.String()
	}
	return nil
}

// SetPackages records a successful package listing for the current
// provider. An empty slice is a valid result, distinct from an error.
func (s *State) SetPackages(pkgs []catalog.Package) {
	s.packages = pkgs
	s.packagesStatus = PackagesLoaded
}

// SetPackagesError records a failed package listing for the current
// provider.
func (s *State) SetPackagesError() {
	s.packages = nil
	s.packagesStatus = PackagesErrored
}

// SetIdentifier records raw identifier input.
func (s *State) SetIdentifier(v string) { s.identifier = v }

// SetAmount records raw amount input.
func (s *State) SetAmount(v string) { s.amount = v }

// Category returns the selected category, or nil.
func (s *State) Category() *catalog.Category { return s.category }

// Provider returns the selected provider, or nil.
func (s *State) Provider() *catalog.Provider { return s.provider }

// Package returns the selected package, or nil.
func (s *State) Package() *catalog.Package { return s.pkg }

// Identifier returns the raw identifier field.
func (s *State) Identifier() string { return s.identifier }

// Amount returns the raw amount field.
func (s *State) Amount() string { return s.amount }

// Packages returns the current package listing.
func (s *State) Packages() []catalog.Package { return s.packages }

// PackagesStatus returns the listing status for the current provider.
func (s *State) PackagesStatus() PackagesStatus { return s.packagesStatus }

// PackagesAvailable reports whether the listing succeeded with at least
// one entry.
func (s *State) PackagesAvailable() bool {
	return s.packagesStatus == PackagesLoaded && len(s.packages) > 0
}

// PackagesRequired reports whether a package must be selected before
// submission. A provider that legitimately has no packages does not
// require one.
func (s *State) PackagesRequired() bool {
	return s.PackagesAvailable()
}

// PackagesErrored reports whether the listing failed for the current
// provider.
func (s *State) PackagesErrored() bool {
	return s.packagesStatus == PackagesErrored
}

// CategoryCode returns the selected category code, or "".
func (s *State) CategoryCode() string {
	if s.category == nil {
		return ""
	}
	return s.category.Code
}

// ProviderCode returns the selected provider code, or "".
func (s *State) ProviderCode() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Code
}

// PackageCode returns the selected package code, or "".
func (s *State) PackageCode() string {
	if s.pkg == nil {
		return ""
	}
	return s.pkg.Code
}
