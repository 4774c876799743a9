package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/northmeter/ledger/internal/alert"
	"github.com/northmeter/ledger/internal/attribution"
	attributiondomain "github.com/northmeter/ledger/internal/attribution/domain"
	"github.com/northmeter/ledger/internal/clock"
	"github.com/northmeter/ledger/internal/config"
	ledgerdomain "github.com/northmeter/ledger/internal/ledger/domain"
	"github.com/northmeter/ledger/internal/reporting"
	"github.com/northmeter/ledger/internal/tenant"
	tenantdomain "github.com/northmeter/ledger/internal/tenant/domain"
	"github.com/northmeter/ledger/internal/usageevent"
	usageeventdomain "github.com/northmeter/ledger/internal/usageevent/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	server *Server
	db     *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// In-memory sqlite is per-connection; pin the pool to one.
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&tenantdomain.Tenant{},
		&attributiondomain.TenantAttribution{},
		&usageeventdomain.UsageEvent{},
		&ledgerdomain.BillingCursor{},
		&ledgerdomain.UsageSummary{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	logger := zap.NewNop()
	sink := alert.NewLogSink(logger)

	tenantSvc := tenant.NewService(tenant.ServiceParam{DB: gdb, Log: logger, GenID: node})
	attrRepo := attribution.NewRepository(gdb)
	propagator := attribution.NewPropagator(attribution.PropagatorParam{
		Log:       logger,
		GenID:     node,
		TenantSvc: tenantSvc,
		Repo:      attrRepo,
		Alerts:    sink,
	})
	usageSvc := usageevent.NewService(usageevent.ServiceParam{
		DB:    gdb,
		Log:   logger,
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	reportingSvc := reporting.NewService(reporting.ServiceParam{
		DB:              gdb,
		Log:             logger,
		AttributionRepo: attrRepo,
	})

	srv := NewServer(ServerParams{
		Gin:          NewEngine(),
		Cfg:          config.Config{},
		Log:          logger,
		Propagator:   propagator,
		UsageSvc:     usageSvc,
		ReportingSvc: reportingSvc,
	})
	return &testServer{server: srv, db: gdb}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

func tenantHeaders(tenantID string) map[string]string {
	return map[string]string{
		"X-Auth-Type":      "tenant",
		"X-Auth-Tenant-ID": tenantID,
		"X-Auth-Scopes":    "usage:read",
	}
}

func TestSignupCapturesAttribution(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/signup?utm_medium=cpc", map[string]any{
		"name":         "Acme",
		"email":        "billing@acme.test",
		"utm_source":   "google",
		"landing_page": "https://app.example.test/signup?gclid=123#top",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		TenantID   string `json:"tenant_id"`
		Attributed bool   `json:"attributed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Attributed)
	require.NotEmpty(t, resp.TenantID)

	tenantID, err := snowflake.ParseString(resp.TenantID)
	require.NoError(t, err)

	var record attributiondomain.TenantAttribution
	require.NoError(t, ts.db.First(&record, "tenant_id = ?", tenantID).Error)
	require.Equal(t, "google", *record.UTMSource)
	// Body left the medium empty; the landing query filled it.
	require.Equal(t, "cpc", *record.UTMMedium)
	require.Equal(t, "https://app.example.test/signup", record.LandingPage)
	require.Equal(t, "web", record.SignupChannel)
}

func TestSignupOrganic(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/signup", map[string]any{
		"name":  "Organic Co",
		"email": "hello@organic.test",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		TenantID   string `json:"tenant_id"`
		Attributed bool   `json:"attributed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Attributed)

	var count int64
	require.NoError(t, ts.db.Model(&attributiondomain.TenantAttribution{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{"name": "Acme", "email": "dup@acme.test"}
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/signup", body, nil).Code)
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/v1/signup", body, nil).Code)
}

func TestIngestRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_id": "evt-1",
		"kind":     "inference_tokens",
		"quantity": "10",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestTenantWritesOwnStreamOnly(t *testing.T) {
	ts := newTestServer(t)
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	me := node.Generate()
	other := node.Generate()

	// The body names another tenant; the credential wins.
	w := ts.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_id":  "evt-1",
		"tenant_id": other.String(),
		"kind":      "inference_tokens",
		"quantity":  "10",
	}, tenantHeaders(me.String()))
	require.Equal(t, http.StatusAccepted, w.Code)

	var stored usageeventdomain.UsageEvent
	require.NoError(t, ts.db.First(&stored, "event_id = ?", "evt-1").Error)
	require.Equal(t, me, stored.TenantID)
}

func TestIngestUnknownKindRejected(t *testing.T) {
	ts := newTestServer(t)
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)

	w := ts.do(t, http.MethodPost, "/v1/events", map[string]any{
		"event_id": "evt-bad",
		"kind":     "cpu_seconds",
		"quantity": "10",
	}, tenantHeaders(node.Generate().String()))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSummariesDeniedAcrossTenants(t *testing.T) {
	ts := newTestServer(t)
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	me := node.Generate()
	other := node.Generate()

	w := ts.do(t, http.MethodGet,
		"/v1/tenants/"+other.String()+"/usage/summaries?usage_type=capacity_tokens",
		nil, tenantHeaders(me.String()))
	require.Equal(t, http.StatusForbidden, w.Code)

	// Denial is a plain authorization failure, not a data-shaped body.
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp, "error")
	require.NotContains(t, resp, "usage_summaries")
}

func TestSummariesOwnTenantEmpty(t *testing.T) {
	ts := newTestServer(t)
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	me := node.Generate()

	w := ts.do(t, http.MethodGet,
		"/v1/tenants/"+me.String()+"/usage/summaries?usage_type=capacity_tokens",
		nil, tenantHeaders(me.String()))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCursorEndpointDeniedForTenants(t *testing.T) {
	ts := newTestServer(t)
	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	me := node.Generate()

	w := ts.do(t, http.MethodGet,
		"/v1/ops/cursors/"+me.String()+"/capacity_tokens",
		nil, tenantHeaders(me.String()))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAttributionEndpointOrganicNull(t *testing.T) {
	ts := newTestServer(t)

	created := ts.do(t, http.MethodPost, "/v1/signup", map[string]any{
		"name":  "Plain",
		"email": "plain@example.test",
	}, nil)
	require.Equal(t, http.StatusCreated, created.Code)

	var resp struct {
		TenantID string `json:"tenant_id"`
	}
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &resp))

	w := ts.do(t, http.MethodGet,
		"/v1/tenants/"+resp.TenantID+"/attribution",
		nil, tenantHeaders(resp.TenantID))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	value, ok := body["attribution"]
	require.True(t, ok)
	require.Nil(t, value)
}
