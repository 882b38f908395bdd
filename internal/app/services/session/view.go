package session

import (
	"time"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
	"github.com/paydeck/formflow/internal/form/eligibility"
)

// ValidationView is the gate as rendered to clients.
type ValidationView struct {
	Status       string `json:"status"`
	ResolvedName string `json:"resolved_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

// FeeView is the fee resolver as rendered to clients. While a quote is
// loading the figures are omitted so the client shows a placeholder
// instead of a stale number.
type FeeView struct {
	Loading    bool   `json:"loading"`
	NetworkFee string `json:"network_fee,omitempty"`
	ServiceFee string `json:"service_fee,omitempty"`
	TotalDebit string `json:"total_debit,omitempty"`
	Error      string `json:"error,omitempty"`
}

// View is the full session snapshot returned by the API.
type View struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Category *catalog.Category `json:"category,omitempty"`
	Provider *catalog.Provider `json:"provider,omitempty"`
	Package  *catalog.Package  `json:"package,omitempty"`

	PackagesStatus   string            `json:"packages_status"`
	Packages         []catalog.Package `json:"packages,omitempty"`
	PackagesRequired bool              `json:"packages_required"`

	Identifier        string `json:"identifier"`
	IdentifierPending bool   `json:"identifier_pending"`
	Amount            string `json:"amount"`
	AmountPending     bool   `json:"amount_pending"`

	Validation  ValidationView       `json:"validation"`
	Fee         FeeView              `json:"fee"`
	Eligibility eligibility.Decision `json:"eligibility"`

	Submitted bool `json:"submitted"`
}

// View renders the session snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:               s.id,
		Direction:        s.direction.String(),
		CreatedAt:        s.createdAt,
		UpdatedAt:        s.updatedAt,
		Category:         s.sel.Category(),
		Provider:         s.sel.Provider(),
		Package:          s.sel.Package(),
		PackagesStatus:   s.sel.PackagesStatus().String(),
		Packages:         s.sel.Packages(),
		PackagesRequired: s.sel.PackagesRequired(),
		Identifier:       s.sel.Identifier(),
		IdentifierPending: s.identifier.Pending(),
		Amount:           s.sel.Amount(),
		AmountPending:    s.amount.Pending(),
		Eligibility:      s.decision,
		Submitted:        s.submitted,
	}

	v.Validation.Status = s.gate.Status().String()
	v.Validation.ResolvedName = s.gate.ResolvedName()
	if err := s.gate.Err(); err != nil {
		v.Validation.Error = err.Error()
	}

	v.Fee.Loading = s.fee.Loading()
	if quote := s.fee.Quote(); quote != nil {
		v.Fee.NetworkFee = quote.NetworkFee.String()
		v.Fee.ServiceFee = quote.ServiceFee.String()
	}
	if total, ok := s.fee.TotalDebit(); ok {
		v.Fee.TotalDebit = total.String()
	}
	if err := s.fee.Err(); err != nil {
		v.Fee.Error = err.Error()
	}
	return v
}
