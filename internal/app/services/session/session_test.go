package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
	"github.com/paydeck/formflow/internal/app/domain/draft"
	"github.com/paydeck/formflow/internal/app/storage"
	"github.com/paydeck/formflow/internal/app/storage/memory"
	pipeerrors "github.com/paydeck/formflow/internal/errors"
	"github.com/paydeck/formflow/internal/form/eligibility"
	"github.com/paydeck/formflow/internal/form/events"
	"github.com/paydeck/formflow/internal/form/feequote"
)

const testDebounce = 10 * time.Millisecond

// fakeAPI is an in-memory upstream with controllable behavior.
type fakeAPI struct {
	mu           sync.Mutex
	categories   []catalog.Category
	providers    map[string][]catalog.Provider
	packages     map[string][]catalog.Package
	packagesErr  map[string]error
	packagesGate map[string]chan struct{}

	validateFn func(draft.ValidationKey) (draft.ValidationResult, error)
	quoteFn    func(draft.FeeKey) (draft.FeeBreakdown, error)
	submitFn   func(draft.TransactionDraft) (draft.Receipt, error)

	submitCalls atomic.Int64
}

func newFakeAPI() *fakeAPI {
	face := decimal.NewFromInt(9000)
	return &fakeAPI{
		categories: []catalog.Category{
			{ID: "1", Code: "bills", Name: "Bill Payment"},
			{ID: "2", Code: "airtime", Name: "Airtime"},
		},
		providers: map[string][]catalog.Provider{
			"bills": {
				{ID: "10", Code: "dstv", Name: "DStv", CategoryCode: "bills"},
				{ID: "11", Code: "nepa", Name: "NEPA", CategoryCode: "bills"},
			},
			"airtime": {
				{ID: "20", Code: "mtn", Name: "MTN", CategoryCode: "airtime"},
			},
		},
		packages: map[string][]catalog.Package{
			"dstv": {
				{ID: "100", Code: "compact", Name: "Compact", ProviderCode: "dstv", Amount: &face},
				{ID: "101", Code: "premium", Name: "Premium", ProviderCode: "dstv"},
			},
			"nepa": {},
			"mtn":  {{ID: "200", Code: "mb500", Name: "500MB", ProviderCode: "mtn"}},
		},
		packagesErr:  make(map[string]error),
		packagesGate: make(map[string]chan struct{}),
	}
}

func (f *fakeAPI) ListCategories(context.Context) ([]catalog.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.categories, nil
}

func (f *fakeAPI) ListProviders(_ context.Context, categoryCode string) ([]catalog.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.providers[categoryCode], nil
}

func (f *fakeAPI) ListPackages(_ context.Context, providerCode string) ([]catalog.Package, error) {
	f.mu.Lock()
	gate := f.packagesGate[providerCode]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.packagesErr[providerCode]; err != nil {
		return nil, err
	}
	return f.packages[providerCode], nil
}

func (f *fakeAPI) ValidateIdentifier(_ context.Context, key draft.ValidationKey) (draft.ValidationResult, error) {
	f.mu.Lock()
	fn := f.validateFn
	f.mu.Unlock()
	if fn != nil {
		return fn(key)
	}
	return draft.ValidationResult{Key: key, ResolvedName: "ADA OBI"}, nil
}

func (f *fakeAPI) QuoteFee(_ context.Context, key draft.FeeKey) (draft.FeeBreakdown, error) {
	f.mu.Lock()
	fn := f.quoteFn
	f.mu.Unlock()
	if fn != nil {
		return fn(key)
	}
	return draft.FeeBreakdown{
		Key:        key,
		NetworkFee: decimal.NewFromInt(50),
		ServiceFee: decimal.NewFromInt(10),
	}, nil
}

func (f *fakeAPI) Submit(_ context.Context, d draft.TransactionDraft) (draft.Receipt, error) {
	f.submitCalls.Add(1)
	f.mu.Lock()
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(d)
	}
	return draft.Receipt{Reference: "REF-" + d.ID[:8], Status: "accepted"}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func newTestSession(t *testing.T, api *fakeAPI, audit storage.SubmissionAuditStore) *Session {
	t.Helper()
	balance := decimal.NewFromInt(50000)
	s := New(Config{
		Direction:     feequote.DirectionWithdrawal,
		Source:        "ngn-wallet",
		Balance:       &balance,
		DebounceDelay: testDebounce,
		API:           api,
		Audit:         audit,
		Events:        events.NewRingBuffer(500),
	})
	t.Cleanup(s.Close)
	return s
}

// driveToReady walks the session through the full happy path for dstv
// compact and waits until everything settles.
func driveToReady(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "dstv"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })
	if err := s.SelectPackage("compact"); err != nil {
		t.Fatalf("select package: %v", err)
	}
	s.SetIdentifier("1234567890")
	waitFor(t, func() bool { return s.Decision().CanSubmit })
	s.WaitSettled()
}

func TestHappyPathBillPayment(t *testing.T) {
	api := newFakeAPI()
	audit := memory.New()
	s := newTestSession(t, api, audit)

	if d := s.Decision(); d.CanSubmit || d.BlockingReason != eligibility.ReasonCategoryRequired {
		t.Fatalf("fresh session decision = %+v", d)
	}

	driveToReady(t, s)

	view := s.View()
	if view.Amount != "9000" {
		t.Fatalf("amount = %q, want pre-filled 9000", view.Amount)
	}
	if view.Validation.Status != "success" || view.Validation.ResolvedName != "ADA OBI" {
		t.Fatalf("validation view = %+v", view.Validation)
	}
	// Withdrawal: total = 9000 + 50 network fee.
	if view.Fee.TotalDebit != "9050" {
		t.Fatalf("total debit = %q, want 9050", view.Fee.TotalDebit)
	}

	receipt, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Reference == "" {
		t.Fatal("empty receipt reference")
	}
	if got := api.submitCalls.Load(); got != 1 {
		t.Fatalf("submit calls = %d, want 1", got)
	}

	records, err := audit.ListSubmissions(context.Background(), s.ID())
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Outcome != storage.OutcomeAccepted || rec.Permissive {
		t.Fatalf("audit record = %+v", rec)
	}
	if rec.ProviderCode != "dstv" || rec.PackageCode != "compact" || rec.Amount != "9000" {
		t.Fatalf("audit record fields = %+v", rec)
	}

	// A second submit on the same confirmation is refused.
	if _, err := s.Submit(context.Background()); err == nil {
		t.Fatal("double submit allowed")
	}
	if got := api.submitCalls.Load(); got != 1 {
		t.Fatalf("submit calls after double submit = %d, want 1", got)
	}
}

func TestPermissiveSubmissionWithoutPackages(t *testing.T) {
	api := newFakeAPI()
	audit := memory.New()
	s := newTestSession(t, api, audit)
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "nepa"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })

	s.SetIdentifier("04123456789")
	s.SetAmount("2500")
	waitFor(t, func() bool { return s.Decision().CanSubmit })
	s.WaitSettled()

	d := s.Decision()
	if !d.Permissive {
		t.Fatalf("no-package submission not permissive: %+v", d)
	}
	// Without a package the validation gate never arms.
	if got := s.View().Validation.Status; got != "unresolved" {
		t.Fatalf("validation status = %q, want unresolved", got)
	}

	if _, err := s.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	permissive, err := audit.ListPermissiveSubmissions(ctx, 10)
	if err != nil {
		t.Fatalf("list permissive: %v", err)
	}
	if len(permissive) != 1 || !permissive[0].Permissive {
		t.Fatalf("permissive audit = %+v", permissive)
	}
}

func TestIdentifierEditDemotesValidation(t *testing.T) {
	api := newFakeAPI()
	api.validateFn = func(key draft.ValidationKey) (draft.ValidationResult, error) {
		if key.Identifier == "9999" {
			return draft.ValidationResult{}, pipeerrors.ValidationRejected("customer not found")
		}
		return draft.ValidationResult{Key: key, ResolvedName: "ADA OBI"}, nil
	}
	s := newTestSession(t, api, memory.New())

	driveToReady(t, s)

	// Editing the identifier must immediately drop the old success; while
	// the new value is still debouncing the gate reads unresolved and the
	// submit gate blocks on validation.
	s.SetIdentifier("9999")
	d := s.Decision()
	if d.CanSubmit {
		t.Fatal("submission allowed while re-validating")
	}
	if d.BlockingReason != eligibility.ReasonValidationPending && d.BlockingReason != eligibility.ReasonValidationFailed {
		t.Fatalf("reason during edit = %q, want a validation block", d.BlockingReason)
	}
	if got := s.View().Validation.ResolvedName; got != "" {
		t.Fatalf("stale resolved name visible during edit: %q", got)
	}

	// Once the edit settles, the upstream rejection becomes the reason.
	waitFor(t, func() bool {
		return s.Decision().BlockingReason == eligibility.ReasonValidationFailed
	})
	if got := s.View().Validation.Status; got != "failure" {
		t.Fatalf("validation status = %q, want failure", got)
	}
}

func TestRetypedIdentifierRevalidatesAfterDroppedResponse(t *testing.T) {
	api := newFakeAPI()
	slow := make(chan struct{})
	var validateCalls atomic.Int64
	api.validateFn = func(key draft.ValidationKey) (draft.ValidationResult, error) {
		validateCalls.Add(1)
		<-slow
		return draft.ValidationResult{Key: key, ResolvedName: "ADA OBI"}, nil
	}

	log := events.NewRingBuffer(500)
	balance := decimal.NewFromInt(50000)
	s := New(Config{
		Direction:     feequote.DirectionWithdrawal,
		Source:        "ngn-wallet",
		Balance:       &balance,
		DebounceDelay: 150 * time.Millisecond,
		API:           api,
		Audit:         memory.New(),
		Events:        log,
	})
	t.Cleanup(s.Close)
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "dstv"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })
	if err := s.SelectPackage("premium"); err != nil {
		t.Fatalf("select package: %v", err)
	}
	s.SetAmount("2000")

	s.SetIdentifier("1234567890")
	waitFor(t, func() bool { return validateCalls.Load() == 1 })

	// Re-typing the identical value while validation is in flight changes
	// the gate key (the edit is debouncing), so the in-flight response is
	// dropped as stale when it arrives.
	s.SetIdentifier("1234567890")
	close(slow)
	waitFor(t, func() bool {
		for _, e := range log.RecentBySession(s.ID(), 500) {
			if e.Type == events.EventFetchStale && e.Resource == "validation" {
				return true
			}
		}
		return false
	})

	// When the debounce settles back to the same value, the gate must
	// validate again rather than wait on the discarded response.
	waitFor(t, func() bool { return s.Decision().CanSubmit })
	s.WaitSettled()

	if got := validateCalls.Load(); got != 2 {
		t.Fatalf("validate calls = %d, want 2", got)
	}
	if view := s.View(); view.Validation.Status != "success" || view.Validation.ResolvedName != "ADA OBI" {
		t.Fatalf("validation view = %+v", view.Validation)
	}
}

func TestConcurrentInputsConverge(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api, memory.New())
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "dstv"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })
	if err := s.SelectPackage("premium"); err != nil {
		t.Fatalf("select package: %v", err)
	}

	// Hammer both fields from concurrent requests, then apply the final
	// values. Whatever interleaving the hammer produced, the resources
	// must end up keyed to the latest inputs.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.SetIdentifier(fmt.Sprintf("08120000%02d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			s.SetAmount(fmt.Sprintf("%d", 100+i))
		}(i)
	}
	wg.Wait()
	s.SetIdentifier("1234567890")
	s.SetAmount("2000")

	waitFor(t, func() bool { return s.Decision().CanSubmit })
	s.WaitSettled()

	view := s.View()
	if view.Validation.Status != "success" || view.Validation.ResolvedName != "ADA OBI" {
		t.Fatalf("validation view = %+v", view.Validation)
	}
	// Withdrawal: total = 2000 + 50 network fee, proving the quote is for
	// the final amount, not one from the hammer.
	if view.Fee.TotalDebit != "2050" {
		t.Fatalf("total debit = %q, want 2050", view.Fee.TotalDebit)
	}
}

func TestStalePackageListingDropped(t *testing.T) {
	api := newFakeAPI()
	slow := make(chan struct{})
	api.packagesGate["dstv"] = slow
	s := newTestSession(t, api, memory.New())
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	// Select the slow provider, then switch before its listing returns.
	if err := s.SelectProvider(ctx, "dstv"); err != nil {
		t.Fatalf("select dstv: %v", err)
	}
	if err := s.SelectProvider(ctx, "nepa"); err != nil {
		t.Fatalf("select nepa: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })

	// The superseded listing settles late and must not be applied.
	close(slow)
	time.Sleep(50 * time.Millisecond)

	view := s.View()
	if view.Provider == nil || view.Provider.Code != "nepa" {
		t.Fatalf("provider = %+v, want nepa", view.Provider)
	}
	if len(view.Packages) != 0 {
		t.Fatalf("stale dstv packages applied to nepa: %v", view.Packages)
	}
	if view.PackagesRequired {
		t.Fatal("stale listing made packages required")
	}
}

func TestPackageListingErrorBlocksSubmission(t *testing.T) {
	api := newFakeAPI()
	api.packagesErr["dstv"] = fmt.Errorf("listing exploded")
	s := newTestSession(t, api, memory.New())
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "dstv"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "errored" })

	s.SetIdentifier("1234567890")
	s.SetAmount("100")
	waitFor(t, func() bool {
		return s.Decision().BlockingReason == eligibility.ReasonPackagesErrored
	})

	if _, err := s.Submit(ctx); err == nil {
		t.Fatal("submit allowed with errored package catalog")
	}
	if got := api.submitCalls.Load(); got != 0 {
		t.Fatalf("submit reached upstream %d times", got)
	}

	// Selecting a package is also refused: the listing never loaded.
	if err := s.SelectPackage("compact"); err == nil {
		t.Fatal("package selectable without a listing")
	}
}

func TestProviderChangeResetsDownstreamFields(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api, memory.New())

	driveToReady(t, s)

	if err := s.SelectProvider(context.Background(), "nepa"); err != nil {
		t.Fatalf("select nepa: %v", err)
	}
	view := s.View()
	if view.Package != nil || view.Identifier != "" || view.Amount != "" {
		t.Fatalf("downstream state survived provider change: %+v", view)
	}
	if view.Validation.Status != "unresolved" {
		t.Fatalf("validation survived provider change: %q", view.Validation.Status)
	}
	if d := s.Decision(); d.CanSubmit {
		t.Fatalf("still submittable after provider change: %+v", d)
	}
}

func TestFailedSubmissionPreservesState(t *testing.T) {
	api := newFakeAPI()
	api.submitFn = func(draft.TransactionDraft) (draft.Receipt, error) {
		return draft.Receipt{}, pipeerrors.Transport(fmt.Errorf("gateway timeout"))
	}
	audit := memory.New()
	s := newTestSession(t, api, audit)

	driveToReady(t, s)

	if _, err := s.Submit(context.Background()); err == nil {
		t.Fatal("submit succeeded against failing upstream")
	}

	// Form state survives so the user can retry.
	view := s.View()
	if view.Submitted {
		t.Fatal("session marked submitted after failure")
	}
	if view.Identifier != "1234567890" || view.Amount != "9000" {
		t.Fatalf("form state lost after failed submit: %+v", view)
	}
	if d := s.Decision(); !d.CanSubmit {
		t.Fatalf("retry blocked after failed submit: %+v", d)
	}

	records, _ := audit.ListSubmissions(context.Background(), s.ID())
	if len(records) != 1 || records[0].Outcome != storage.OutcomeFailed {
		t.Fatalf("audit after failure = %+v", records)
	}

	// The retry goes through.
	api.mu.Lock()
	api.submitFn = nil
	api.mu.Unlock()
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
}

func TestInsufficientBalanceBlocks(t *testing.T) {
	api := newFakeAPI()
	balance := decimal.NewFromInt(100)
	s := New(Config{
		Direction:     feequote.DirectionWithdrawal,
		Source:        "ngn-wallet",
		Balance:       &balance,
		DebounceDelay: testDebounce,
		API:           api,
		Audit:         memory.New(),
	})
	t.Cleanup(s.Close)
	ctx := context.Background()

	if err := s.SelectCategory(ctx, "bills"); err != nil {
		t.Fatalf("select category: %v", err)
	}
	if err := s.SelectProvider(ctx, "nepa"); err != nil {
		t.Fatalf("select provider: %v", err)
	}
	waitFor(t, func() bool { return s.View().PackagesStatus == "loaded" })
	s.SetIdentifier("04123456789")
	s.SetAmount("500")

	waitFor(t, func() bool {
		return s.Decision().BlockingReason == eligibility.ReasonInsufficientFunds
	})
}

func TestResetReturnsToInitialState(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api, memory.New())
	driveToReady(t, s)

	s.Reset()
	view := s.View()
	if view.Category != nil || view.Provider != nil || view.Package != nil {
		t.Fatalf("selection survived reset: %+v", view)
	}
	if view.Identifier != "" || view.Amount != "" {
		t.Fatalf("fields survived reset: %+v", view)
	}
	if d := s.Decision(); d.CanSubmit || d.BlockingReason != eligibility.ReasonCategoryRequired {
		t.Fatalf("decision after reset = %+v", d)
	}
}

func TestEventsRecorded(t *testing.T) {
	api := newFakeAPI()
	log := events.NewRingBuffer(500)
	balance := decimal.NewFromInt(50000)
	s := New(Config{
		Direction:     feequote.DirectionWithdrawal,
		Source:        "ngn-wallet",
		Balance:       &balance,
		DebounceDelay: testDebounce,
		API:           api,
		Audit:         memory.New(),
		Events:        log,
	})
	t.Cleanup(s.Close)

	driveToReady(t, s)
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	seen := make(map[events.EventType]bool)
	for _, e := range log.RecentBySession(s.ID(), 500) {
		seen[e.Type] = true
	}
	for _, want := range []events.EventType{
		events.EventSessionCreated,
		events.EventCategorySelected,
		events.EventProviderSelected,
		events.EventPackagesLoaded,
		events.EventPackageSelected,
		events.EventIdentifierInput,
		events.EventDebounceFired,
		events.EventFetchStarted,
		events.EventFetchSettled,
		events.EventEligibilityChanged,
		events.EventSubmitAttempted,
		events.EventSubmitAccepted,
	} {
		if !seen[want] {
			t.Errorf("event %s never recorded", want)
		}
	}
}

func TestManagerLifecycle(t *testing.T) {
	api := newFakeAPI()
	m := NewManager(api, memory.New(), events.NewRingBuffer(100), testDebounce, nil)

	s := m.Create(CreateParams{Direction: feequote.DirectionWithdrawal, Source: "w"})
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
	got, ok := m.Get(s.ID())
	if !ok || got != s {
		t.Fatal("Get did not return the created session")
	}

	if err := m.Close(s.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("count after close = %d, want 0", m.Count())
	}
	if err := m.Close(s.ID()); err == nil {
		t.Fatal("closing a closed session succeeded")
	}
	if _, ok := m.Get(s.ID()); ok {
		t.Fatal("closed session still retrievable")
	}
}
