// Package session hosts one multi-step transaction form per session: the
// cascading selection state, the two debounced fields, the validation
// gate, the fee resolver, and the submit gate. All user input and every
// asynchronous completion is applied through the session, which
// re-evaluates eligibility after each change and emits structured events
// for observers.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
	"github.com/paydeck/formflow/internal/app/domain/draft"
	"github.com/paydeck/formflow/internal/app/metrics"
	"github.com/paydeck/formflow/internal/app/storage"
	pipeerrors "github.com/paydeck/formflow/internal/errors"
	"github.com/paydeck/formflow/internal/form/asyncres"
	"github.com/paydeck/formflow/internal/form/debounce"
	"github.com/paydeck/formflow/internal/form/eligibility"
	"github.com/paydeck/formflow/internal/form/events"
	"github.com/paydeck/formflow/internal/form/feequote"
	"github.com/paydeck/formflow/internal/form/selection"
	"github.com/paydeck/formflow/internal/form/validation"
	"github.com/paydeck/formflow/internal/upstream"
	"github.com/paydeck/formflow/pkg/logger"
)

// Config configures one session.
type Config struct {
	ID        string
	Direction feequote.Direction

	// Source is the debit side of fee quotes: the wallet or currency the
	// screen operates on.
	Source string

	// Balance is the known spendable ceiling, or nil when unknown.
	Balance *decimal.Decimal

	// DebounceDelay applies to both free-text fields. Zero means the
	// package default.
	DebounceDelay time.Duration

	API    upstream.API
	Audit  storage.SubmissionAuditStore
	Events events.Log
	Log    *logger.Logger
}

// Session is one live form.
type Session struct {
	mu sync.Mutex

	// syncMu serializes syncResources so the key snapshot and the
	// resource updates derived from it are applied as one unit. Taken
	// before mu, never while holding it.
	syncMu sync.Mutex

	id        string
	direction feequote.Direction
	source    string
	balance   *decimal.Decimal

	sel        *selection.State
	identifier *debounce.Debouncer
	amount     *debounce.Debouncer
	gate       *validation.Gate
	fee        *feequote.Resolver

	api    upstream.API
	audit  storage.SubmissionAuditStore
	events events.Log
	log    *logger.Logger

	decision   eligibility.Decision
	submitting bool
	submitted  bool

	// providerGen tags package-listing fetches so a listing for a
	// superseded provider is never applied.
	providerGen uint64

	ctx    context.Context
	cancel context.CancelFunc

	createdAt time.Time
	updatedAt time.Time
}

// New creates a session and emits session.created.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Events == nil {
		cfg.Events = events.NopLog{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("session")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        cfg.ID,
		direction: cfg.Direction,
		source:    cfg.Source,
		balance:   cfg.Balance,
		sel:       selection.New(),
		api:       cfg.API,
		audit:     cfg.Audit,
		events:    cfg.Events,
		log:       cfg.Log.WithField("session_id", cfg.ID),
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now().UTC(),
	}
	s.updatedAt = s.createdAt

	s.identifier = debounce.New(cfg.DebounceDelay, func(string) { s.onSettled("identifier") })
	s.amount = debounce.New(cfg.DebounceDelay, func(string) { s.onSettled("amount") })

	s.gate = validation.New(func(ctx context.Context, key draft.ValidationKey) (draft.ValidationResult, error) {
		return s.api.ValidateIdentifier(ctx, key)
	})
	s.gate.WithHooks(asyncres.Hooks[draft.ValidationKey]{
		OnStart:  func(key draft.ValidationKey) { s.onFetchStarted("validation", validationKeyString(key)) },
		OnSettle: func(key draft.ValidationKey, err error) { s.onFetchSettled("validation", validationKeyString(key), err) },
		OnStale:  func(key draft.ValidationKey) { s.onFetchStale("validation", validationKeyString(key)) },
	})
	s.gate.Notify(func() { s.reevaluate() })

	s.fee = feequote.New(cfg.Direction, func(ctx context.Context, key draft.FeeKey) (draft.FeeBreakdown, error) {
		return s.api.QuoteFee(ctx, key)
	})
	s.fee.WithHooks(asyncres.Hooks[draft.FeeKey]{
		OnStart:  func(key draft.FeeKey) { s.onFetchStarted("fee", feeKeyString(key)) },
		OnSettle: func(key draft.FeeKey, err error) { s.onFetchSettled("fee", feeKeyString(key), err) },
		OnStale:  func(key draft.FeeKey) { s.onFetchStale("fee", feeKeyString(key)) },
	})
	s.fee.Notify(func() { s.reevaluate() })

	s.emit(events.Event{Type: events.EventSessionCreated, Metadata: map[string]string{"direction": cfg.Direction.String()}})
	s.reevaluate()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Direction returns the screen direction.
func (s *Session) Direction() feequote.Direction { return s.direction }

func validationKeyString(key draft.ValidationKey) string {
	return key.ProviderCode + "|" + key.PackageCode + "|" + key.Identifier
}

func feeKeyString(key draft.FeeKey) string {
	return key.Source + "|" + key.Destination + "|" + key.Amount
}

// SelectCategory resolves the code against the catalog and applies the
// cascade reset.
func (s *Session) SelectCategory(ctx context.Context, code string) error {
	categories, err := s.api.ListCategories(ctx)
	if err != nil {
		return err
	}
	var found *catalog.Category
	for i := range categories {
		if categories[i].Code == code {
			found = &categories[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("unknown category %q", code)
	}

	s.mu.Lock()
	s.sel.SelectCategory(*found)
	s.providerGen++
	s.identifier.Reset()
	s.amount.Reset()
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventCategorySelected, Key: code})
	s.syncResources()
	s.reevaluate()
	return nil
}

// SelectProvider resolves the code against the current category's
// providers, applies the cascade reset, and starts the package listing.
func (s *Session) SelectProvider(ctx context.Context, code string) error {
	s.mu.Lock()
	categoryCode := s.sel.CategoryCode()
	s.mu.Unlock()
	if categoryCode == "" {
		return fmt.Errorf("provider %q selected before category", code)
	}

	providers, err := s.api.ListProviders(ctx, categoryCode)
	if err != nil {
		return err
	}
	var found *catalog.Provider
	for i := range providers {
		if providers[i].Code == code {
			found = &providers[i]
			break
		}
	}
	if found == nil {
		return fmt.Errorf("provider %q not in category %q", code, categoryCode)
	}

	s.mu.Lock()
	if err := s.sel.SelectProvider(*found); err != nil {
		s.mu.Unlock()
		return err
	}
	s.providerGen++
	gen := s.providerGen
	s.identifier.Reset()
	s.amount.Reset()
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventProviderSelected, Key: code})
	go s.loadPackages(code, gen)
	s.syncResources()
	s.reevaluate()
	return nil
}

// loadPackages fetches the provider's package listing and applies it only
// if the provider is still current.
func (s *Session) loadPackages(providerCode string, gen uint64) {
	pkgs, err := s.api.ListPackages(s.ctx, providerCode)

	s.mu.Lock()
	if gen != s.providerGen {
		s.mu.Unlock()
		metrics.RecordStaleDropped("packages")
		s.emit(events.Event{Type: events.EventFetchStale, Resource: "packages", Key: providerCode})
		return
	}
	if err != nil {
		s.sel.SetPackagesError()
	} else {
		s.sel.SetPackages(pkgs)
	}
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).WithField("provider", providerCode).Warn("package listing failed")
		s.emit(events.Event{Type: events.EventPackagesErrored, Resource: "packages", Key: providerCode, Severity: events.SeverityError, Error: err.Error()})
	} else {
		s.emit(events.Event{Type: events.EventPackagesLoaded, Resource: "packages", Key: providerCode, Metadata: map[string]string{"count": fmt.Sprintf("%d", len(pkgs))}})
	}
	s.reevaluate()
}

// SelectPackage applies a package from the loaded listing. A fixed face
// amount pre-fills the amount field as a one-way default.
func (s *Session) SelectPackage(code string) error {
	s.mu.Lock()
	if s.sel.Provider() == nil {
		s.mu.Unlock()
		return fmt.Errorf("package %q selected before provider", code)
	}
	if s.sel.PackagesStatus() != selection.PackagesLoaded {
		s.mu.Unlock()
		return fmt.Errorf("package listing not available for provider %q", s.sel.ProviderCode())
	}
	var found *catalog.Package
	for _, pkg := range s.sel.Packages() {
		if pkg.Code == code {
			p := pkg
			found = &p
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return fmt.Errorf("package %q not in listing for provider %q", code, s.sel.ProviderCode())
	}
	if err := s.sel.SelectPackage(*found); err != nil {
		s.mu.Unlock()
		return err
	}
	if found.Amount != nil {
		// Pre-filled amounts are already settled: no human typing to wait
		// out.
		s.amount.Input(found.Amount.String())
	}
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventPackageSelected, Key: code})
	s.syncResources()
	s.reevaluate()
	return nil
}

// SetIdentifier records raw identifier input and re-arms its debouncer.
// Any previous validation result immediately stops being authoritative
// because the gate key no longer matches.
func (s *Session) SetIdentifier(raw string) {
	s.mu.Lock()
	s.sel.SetIdentifier(raw)
	s.identifier.Input(raw)
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventIdentifierInput, Field: "identifier"})
	s.syncResources()
	s.reevaluate()
}

// SetAmount records raw amount input and re-arms its debouncer.
func (s *Session) SetAmount(raw string) {
	s.mu.Lock()
	s.sel.SetAmount(raw)
	s.amount.Input(raw)
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventAmountInput, Field: "amount"})
	s.syncResources()
	s.reevaluate()
}

// onSettled handles a debounce timer firing.
func (s *Session) onSettled(field string) {
	metrics.RecordDebounceFired(field)
	s.emit(events.Event{Type: events.EventDebounceFired, Field: field})
	s.syncResources()
	s.reevaluate()
}

// settledIdentifier returns the settled identifier, or "" while input is
// still in flight. Editing therefore demotes the gate to unresolved
// immediately instead of leaving a stale success visible.
func (s *Session) settledIdentifier() string {
	if s.identifier.Pending() {
		return ""
	}
	return s.identifier.Settled()
}

func (s *Session) settledAmount() string {
	if s.amount.Pending() {
		return ""
	}
	return s.amount.Settled()
}

// syncResources recomputes both resource keys from the current inputs.
// Called outside the session lock: resource notifications re-enter
// reevaluate. syncMu keeps the snapshot and the updates together, so
// two concurrent inputs cannot apply their resource keys in inverted
// order and leave a resource keyed to older inputs than the selection.
func (s *Session) syncResources() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	providerCode := s.sel.ProviderCode()
	packageCode := s.sel.PackageCode()
	settledID := s.settledIdentifier()
	settledAmt := s.settledAmount()
	source := s.source
	s.mu.Unlock()

	s.gate.Update(s.ctx, providerCode, packageCode, settledID)
	s.fee.Update(s.ctx, source, settledID, settledAmt)
}

// reevaluate recomputes eligibility and emits on change.
func (s *Session) reevaluate() {
	s.mu.Lock()
	input := eligibility.Input{
		CategorySelected: s.sel.Category() != nil,
		ProviderSelected: s.sel.Provider() != nil,
		PackageSelected:  s.sel.Package() != nil,
		PackagesRequired: s.sel.PackagesRequired(),
		PackagesErrored:  s.sel.PackagesErrored(),
		Identifier:       s.sel.Identifier(),
		Amount:           s.sel.Amount(),
		Validation:       s.gate.Status(),
		BalanceCeiling:   s.balance,
	}
	decision := eligibility.Evaluate(input)
	changed := decision != s.decision
	s.decision = decision
	s.mu.Unlock()

	if changed {
		s.emit(events.Event{
			Type: events.EventEligibilityChanged,
			Metadata: map[string]string{
				"can_submit": fmt.Sprintf("%t", decision.CanSubmit),
				"reason":     decision.BlockingReason,
			},
		})
	}
}

// Decision returns the current eligibility verdict.
func (s *Session) Decision() eligibility.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// Submit builds the transaction draft and invokes the upstream submit call
// exactly once per confirmation. A failed submission preserves all form
// state so the user can retry without re-entering data.
func (s *Session) Submit(ctx context.Context) (draft.Receipt, error) {
	s.mu.Lock()
	if s.submitted {
		s.mu.Unlock()
		return draft.Receipt{}, fmt.Errorf("session %s already submitted", s.id)
	}
	if s.submitting {
		s.mu.Unlock()
		return draft.Receipt{}, fmt.Errorf("submission already in progress")
	}

	decision := s.decision
	if !decision.CanSubmit {
		s.mu.Unlock()
		metrics.RecordSubmission(storage.OutcomeRejected)
		return draft.Receipt{}, fmt.Errorf("submission blocked: %s", decision.BlockingReason)
	}

	amount, err := decimal.NewFromString(s.sel.Amount())
	if err != nil {
		s.mu.Unlock()
		return draft.Receipt{}, fmt.Errorf("amount %q: %w", s.sel.Amount(), err)
	}

	d := draft.TransactionDraft{
		ID:           uuid.NewString(),
		SessionID:    s.id,
		CategoryCode: s.sel.CategoryCode(),
		ProviderCode: s.sel.ProviderCode(),
		PackageCode:  s.sel.PackageCode(),
		Identifier:   s.sel.Identifier(),
		ResolvedName: s.gate.ResolvedName(),
		Amount:       amount,
		CreatedAt:    time.Now().UTC(),
	}
	if quote := s.fee.Quote(); quote != nil {
		d.NetworkFee = quote.NetworkFee
		d.ServiceFee = quote.ServiceFee
	}
	if total, ok := s.fee.TotalDebit(); ok {
		d.TotalDebit = total
	} else {
		d.TotalDebit = amount
	}
	s.submitting = true
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventSubmitAttempted, Key: d.ID})
	if decision.Permissive {
		metrics.RecordPermissiveSubmission()
		s.log.WithField("draft_id", d.ID).
			WithField("provider", d.ProviderCode).
			Warn("submission allowed without validation success")
		s.emit(events.Event{Type: events.EventSubmitPermissive, Key: d.ID, Severity: events.SeverityWarning})
	}

	receipt, err := s.api.Submit(ctx, d)

	s.mu.Lock()
	s.submitting = false
	if err == nil {
		s.submitted = true
	}
	s.touchLocked()
	s.mu.Unlock()

	if err != nil {
		metrics.RecordSubmission(storage.OutcomeFailed)
		s.recordAudit(ctx, d, storage.OutcomeFailed, "", decision.Permissive, err)
		s.emit(events.Event{Type: events.EventSubmitFailed, Key: d.ID, Severity: events.SeverityError, Error: err.Error()})
		if pipeerrors.KindOf(err) == "" {
			err = pipeerrors.Submission(err)
		}
		return draft.Receipt{}, err
	}

	metrics.RecordSubmission(storage.OutcomeAccepted)
	s.recordAudit(ctx, d, storage.OutcomeAccepted, receipt.Reference, decision.Permissive, nil)
	s.emit(events.Event{Type: events.EventSubmitAccepted, Key: d.ID, Metadata: map[string]string{"reference": receipt.Reference}})
	s.log.WithField("draft_id", d.ID).
		WithField("reference", receipt.Reference).
		Info("submission accepted")
	return receipt, nil
}

func (s *Session) recordAudit(ctx context.Context, d draft.TransactionDraft, outcome, reference string, permissive bool, submitErr error) {
	if s.audit == nil {
		return
	}
	rec := storage.SubmissionRecord{
		SessionID:    s.id,
		DraftID:      d.ID,
		CategoryCode: d.CategoryCode,
		ProviderCode: d.ProviderCode,
		PackageCode:  d.PackageCode,
		Identifier:   d.Identifier,
		Amount:       d.Amount.String(),
		Outcome:      outcome,
		Reference:    reference,
		Permissive:   permissive,
	}
	if submitErr != nil {
		rec.Error = submitErr.Error()
	}
	if _, err := s.audit.RecordSubmission(ctx, rec); err != nil {
		s.log.WithError(err).WithField("draft_id", d.ID).Warn("record submission audit failed")
	}
}

// Reset returns the session to its initial empty state.
func (s *Session) Reset() {
	s.mu.Lock()
	s.sel = selection.New()
	s.providerGen++
	s.identifier.Reset()
	s.amount.Reset()
	s.gate.Reset()
	s.fee.Reset()
	s.submitted = false
	s.submitting = false
	s.touchLocked()
	s.mu.Unlock()

	s.emit(events.Event{Type: events.EventSessionReset})
	s.reevaluate()
}

// Close cancels the session's fetches and emits session.closed. The
// session must not be used afterwards.
func (s *Session) Close() {
	s.cancel()
	s.emit(events.Event{Type: events.EventSessionClosed})
}

// WaitSettled blocks until in-flight validation and fee fetches settle.
// Intended for tests.
func (s *Session) WaitSettled() {
	s.gate.Wait()
	s.fee.Wait()
}

func (s *Session) touchLocked() { s.updatedAt = time.Now().UTC() }

func (s *Session) onFetchStarted(resource, key string) {
	metrics.RecordFetchStarted(resource)
	s.emit(events.Event{Type: events.EventFetchStarted, Resource: resource, Key: key, Severity: events.SeverityDebug})
}

func (s *Session) onFetchSettled(resource, key string, err error) {
	metrics.RecordFetchSettled(resource, err)
	event := events.Event{Type: events.EventFetchSettled, Resource: resource, Key: key, Severity: events.SeverityDebug}
	if err != nil {
		event.Error = err.Error()
	}
	s.emit(event)
}

func (s *Session) onFetchStale(resource, key string) {
	metrics.RecordStaleDropped(resource)
	s.emit(events.Event{Type: events.EventFetchStale, Resource: resource, Key: key, Severity: events.SeverityDebug})
}

func (s *Session) emit(event events.Event) {
	event.SessionID = s.id
	s.events.Record(event)
}
