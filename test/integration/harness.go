// Package integration provides a reusable test harness for end-to-end
// testing of the aegis server. It starts a full HTTP server with in-memory
// stores and a test JWT issuer serving its own JWKS endpoint.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/aegis/internal/approval"
	"github.com/pitabwire/aegis/internal/audit"
	"github.com/pitabwire/aegis/internal/config"
	"github.com/pitabwire/aegis/internal/livestatus"
	"github.com/pitabwire/aegis/internal/pending"
	"github.com/pitabwire/aegis/internal/roles"
	"github.com/pitabwire/aegis/internal/tracker"
	"github.com/pitabwire/aegis/internal/transport"
	"github.com/pitabwire/aegis/model"
)

// TestHarness encapsulates a fully wired aegis instance over in-memory
// stores for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for seeding and assertions.
	Incidents *approval.MemoryIncidentStore
	AuditLog  *audit.MemoryWriter
	Instances *tracker.MemoryInstanceStore
	Feed      *tracker.Feed

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	feedBuffer     int
	pendingSources []pending.Source
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithFeedBuffer sets the per-subscriber change feed buffer size.
func WithFeedBuffer(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.feedBuffer = n
	}
}

// WithPendingSources installs pending-approval sources for the aggregator.
func WithPendingSources(sources ...pending.Source) HarnessOption {
	return func(c *harnessConfig) {
		c.pendingSources = sources
	}
}

// NewTestHarness creates and starts a full aegis test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		feedBuffer:     16,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:         t,
		Incidents: approval.NewMemoryIncidentStore(),
		AuditLog:  audit.NewMemoryWriter(),
		Instances: tracker.NewMemoryInstanceStore(),
	}

	directory, err := roles.NewStaticDirectory("")
	if err != nil {
		t.Fatalf("role directory: %v", err)
	}
	machine := approval.NewMachine(h.Incidents, h.Incidents, directory, h.AuditLog, nil, nil, nil)

	h.Feed = tracker.NewFeed(nil)
	trk := tracker.NewTracker(h.Instances, h.Feed, nil, nil, 100)

	statusService := livestatus.NewService(h.Instances, nil, nil)
	aggregator := pending.NewAggregator(hc.pendingSources, nil, nil, nil)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Approval:     transport.NewApprovalHandler(machine, h.AuditLog),
		Tracker:      transport.NewTrackerHandler(trk),
		Status:       transport.NewStatusHandler(statusService),
		Pending:      transport.NewPendingHandler(aggregator, 0),
		Feed:         transport.NewFeedHandler(trk, nil, hc.feedBuffer),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// SeedObservation stores an observation awaiting HSSE validation with the
// given pending corrective-action count.
func (h *TestHarness) SeedObservation(id, tenantID string, severity, pendingActions int) {
	h.Incidents.Put(model.Incident{
		ID:        id,
		TenantID:  tenantID,
		EventType: model.EventTypeObservation,
		Title:     "Unsecured scaffolding on level 3",
		Severity:  severity,
		Status:    model.StatusPendingHSSEValidation,
		CreatedAt: time.Now().Add(-72 * time.Hour),
		UpdatedAt: time.Now().Add(-24 * time.Hour),
	})
	h.Incidents.SetPendingActions(id, pendingActions)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// ExpertClaims returns TestClaims for an HSSE expert user.
func ExpertClaims() TestClaims {
	return TestClaims{
		ActorID:  "user-expert",
		TenantID: "acme-corp",
		Email:    "expert@acme.example.com",
		Roles:    []string{"hsse_expert"},
	}
}

// ManagerClaims returns TestClaims for an HSSE manager user.
func ManagerClaims() TestClaims {
	return TestClaims{
		ActorID:  "user-manager",
		TenantID: "acme-corp",
		Email:    "manager@acme.example.com",
		Roles:    []string{"hsse_manager"},
	}
}

// ViewerClaims returns TestClaims for a user with no approval roles.
func ViewerClaims() TestClaims {
	return TestClaims{
		ActorID:  "user-viewer",
		TenantID: "acme-corp",
		Email:    "viewer@acme.example.com",
		Roles:    []string{"viewer"},
	}
}

// OtherTenantClaims returns TestClaims for an expert in a different tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		ActorID:  "user-expert-2",
		TenantID: "globex-inc",
		Email:    "expert@globex.example.com",
		Roles:    []string{"hsse_expert"},
	}
}
