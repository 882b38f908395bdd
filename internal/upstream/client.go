// Package upstream binds the pipeline's opaque external collaborator: the
// catalog/validation/fee API. All six operations are exposed behind the
// API interface so sessions and handlers never see the transport; the
// HTTP client maps failures into the typed error taxonomy at this
// boundary.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/paydeck/formflow/internal/app/domain/catalog"
	"github.com/paydeck/formflow/internal/app/domain/draft"
	pipeerrors "github.com/paydeck/formflow/internal/errors"
	"github.com/paydeck/formflow/pkg/logger"
)

// API is the logical contract of the upstream collaborator. Listings and
// quotes are idempotent-safe to retry; Submit must be invoked at most once
// per user confirmation.
type API interface {
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	ListProviders(ctx context.Context, categoryCode string) ([]catalog.Provider, error)
	ListPackages(ctx context.Context, providerCode string) ([]catalog.Package, error)
	ValidateIdentifier(ctx context.Context, key draft.ValidationKey) (draft.ValidationResult, error)
	QuoteFee(ctx context.Context, key draft.FeeKey) (draft.FeeBreakdown, error)
	Submit(ctx context.Context, d draft.TransactionDraft) (draft.Receipt, error)
}

// Config configures the HTTP client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the JSON-over-HTTP implementation of API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	log        *logger.Logger
}

var _ API = (*Client)(nil)

// NewClient creates an upstream client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewDefault("upstream")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		log:        log,
	}
}

// get fetches an idempotent resource, retrying transport failures.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !pipeerrors.IsKind(err, pipeerrors.KindTransport) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < c.maxRetries {
			c.log.WithError(err).WithField("path", path).Warn("retrying upstream request")
		}
	}
	return nil, lastErr
}

// do executes one request and classifies the outcome. A non-2xx response
// with an application body is returned as the raw status and body for the
// caller to map; connectivity failures become transport errors.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeerrors.Transport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, pipeerrors.Transport(err)
	}

	if resp.StatusCode >= 500 {
		return nil, pipeerrors.Transport(fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(body)))
	}
	if resp.StatusCode >= 400 {
		return nil, &statusError{status: resp.StatusCode, body: body}
	}
	return body, nil
}

// statusError carries a 4xx response for per-operation mapping.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, truncate(e.body))
}

// message extracts the application error message from a rejection body.
func (e *statusError) message() string {
	for _, field := range []string{"message", "error", "detail"} {
		if v := gjson.GetBytes(e.body, field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return fmt.Sprintf("upstream rejected request (status %d)", e.status)
}

func truncate(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "...(truncated)"
	}
	return msg
}

// listing extracts the item array from a loosely-shaped listing body:
// either a bare array or wrapped under "data" / "data.items".
func listing(body []byte) gjson.Result {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root
	}
	if data := root.Get("data"); data.Exists() {
		if data.IsArray() {
			return data
		}
		if items := data.Get("items"); items.IsArray() {
			return items
		}
	}
	return gjson.Result{}
}

func stringField(item gjson.Result, names ...string) string {
	for _, name := range names {
		if v := item.Get(name); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// ListCategories lists the transaction categories.
func (c *Client) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	body, err := c.get(ctx, "/catalog/categories")
	if err != nil {
		return nil, classifyListing("list categories", err)
	}
	var out []catalog.Category
	listing(body).ForEach(func(_, item gjson.Result) bool {
		out = append(out, catalog.Category{
			ID:   stringField(item, "id"),
			Code: stringField(item, "code", "slug"),
			Name: stringField(item, "name", "title"),
		})
		return true
	})
	return out, nil
}

// ListProviders lists the providers under a category.
func (c *Client) ListProviders(ctx context.Context, categoryCode string) ([]catalog.Provider, error) {
	path := "/catalog/categories/" + url.PathEscape(categoryCode) + "/providers"
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, classifyListing("list providers", err)
	}
	var out []catalog.Provider
	listing(body).ForEach(func(_, item gjson.Result) bool {
		provider := catalog.Provider{
			ID:           stringField(item, "id"),
			Code:         stringField(item, "code", "slug"),
			Name:         stringField(item, "name", "title"),
			CategoryCode: stringField(item, "category_code", "category"),
		}
		if provider.CategoryCode == "" {
			provider.CategoryCode = categoryCode
		}
		out = append(out, provider)
		return true
	})
	return out, nil
}

// ListPackages lists the packages under a provider. An empty result is
// valid and distinct from an error.
func (c *Client) ListPackages(ctx context.Context, providerCode string) ([]catalog.Package, error) {
	path := "/catalog/providers/" + url.PathEscape(providerCode) + "/packages"
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, classifyListing("list packages", err)
	}
	out := []catalog.Package{}
	listing(body).ForEach(func(_, item gjson.Result) bool {
		pkg := catalog.Package{
			ID:           stringField(item, "id"),
			Code:         stringField(item, "code", "slug"),
			Name:         stringField(item, "name", "title"),
			ProviderCode: providerCode,
		}
		if raw := stringField(item, "amount", "face_value", "price"); raw != "" {
			if amount, err := decimal.NewFromString(raw); err == nil {
				pkg.Amount = &amount
			}
		}
		out = append(out, pkg)
		return true
	})
	return out, nil
}

func classifyListing(op string, err error) error {
	if pipeerrors.IsKind(err, pipeerrors.KindTransport) {
		return err
	}
	return pipeerrors.Catalog(op, err)
}

// ValidateIdentifier asks upstream to confirm a customer identifier for
// the given provider/package pair. An explicit rejection surfaces as a
// validation_rejected error.
func (c *Client) ValidateIdentifier(ctx context.Context, key draft.ValidationKey) (draft.ValidationResult, error) {
	payload := map[string]string{
		"provider_code": key.ProviderCode,
		"package_code":  key.PackageCode,
		"identifier":    key.Identifier,
	}
	body, err := c.do(ctx, http.MethodPost, "/validate", payload)
	if err != nil {
		var rejection *statusError
		if errors.As(err, &rejection) {
			return draft.ValidationResult{}, pipeerrors.ValidationRejected(rejection.message())
		}
		return draft.ValidationResult{}, err
	}
	name := gjson.GetBytes(body, "resolved_name").String()
	if name == "" {
		name = gjson.GetBytes(body, "data.resolved_name").String()
	}
	return draft.ValidationResult{Key: key, ResolvedName: name}, nil
}

// QuoteFee computes the network/service fee breakdown for a pending
// transaction.
func (c *Client) QuoteFee(ctx context.Context, key draft.FeeKey) (draft.FeeBreakdown, error) {
	payload := map[string]string{
		"source":      key.Source,
		"destination": key.Destination,
		"amount":      key.Amount,
	}
	body, err := c.do(ctx, http.MethodPost, "/fees/quote", payload)
	if err != nil {
		return draft.FeeBreakdown{}, pipeerrors.FeeQuote(err)
	}
	networkFee, err := feeField(body, "network_fee")
	if err != nil {
		return draft.FeeBreakdown{}, pipeerrors.FeeQuote(err)
	}
	serviceFee, err := feeField(body, "service_fee")
	if err != nil {
		return draft.FeeBreakdown{}, pipeerrors.FeeQuote(err)
	}
	return draft.FeeBreakdown{Key: key, NetworkFee: networkFee, ServiceFee: serviceFee}, nil
}

func feeField(body []byte, name string) (decimal.Decimal, error) {
	v := gjson.GetBytes(body, name)
	if !v.Exists() {
		v = gjson.GetBytes(body, "data."+name)
	}
	if !v.Exists() {
		return decimal.Zero, fmt.Errorf("fee quote missing %s", name)
	}
	fee, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee quote field %s: %w", name, err)
	}
	return fee, nil
}

// Submit sends the final transaction draft. Never retried: at most one
// invocation per user confirmation.
func (c *Client) Submit(ctx context.Context, d draft.TransactionDraft) (draft.Receipt, error) {
	body, err := c.do(ctx, http.MethodPost, "/transactions", d)
	if err != nil {
		return draft.Receipt{}, pipeerrors.Submission(err)
	}
	receipt := draft.Receipt{
		Reference: gjson.GetBytes(body, "reference").String(),
		Status:    gjson.GetBytes(body, "status").String(),
	}
	if receipt.Reference == "" {
		receipt.Reference = gjson.GetBytes(body, "data.reference").String()
	}
	if receipt.Status == "" {
		receipt.Status = gjson.GetBytes(body, "data.status").String()
	}
	return receipt, nil
}
