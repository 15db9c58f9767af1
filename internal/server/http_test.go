package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/observability"
	"PerpVault/internal/query"
	"PerpVault/internal/server"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

var (
	admin   = uuid.MustParse("00000000-0000-0000-0000-00000000a0a0")
	oracle  = uuid.MustParse("00000000-0000-0000-0000-0000000000cc")
	alice   = uuid.MustParse("00000000-0000-0000-0000-0000000a11ce")
	genesis = time.Unix(1_700_000_000, 0).UTC()
)

const adminToken = "test-admin-token"

type apiHarness struct {
	t       *testing.T
	srv     *httptest.Server
	p       *core.Processor
	metrics *observability.Metrics
	now     time.Time
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Vault.Fees = vault.FeeSchedule{}
	cfg.Vault.Positions = vault.PositionParams{}
	cfg.Governor = admin
	cfg.Oracle = oracle
	cfg.IdempotencyCapacity = 1024
	cfg.SnapshotInterval = 0

	p, err := core.NewProcessor(cfg, core.Outputs{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	submitCh := make(chan core.Submission)
	go p.Run(ctx, submitCh)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	qs := query.NewQueryService(p.Vault(), p.PriceFeed(), p.Custody(), nil, nil)
	api, err := server.NewHTTPServer(":0", server.HTTPDeps{
		Query:      qs,
		SubmitCh:   submitCh,
		Admin:      ingestion.NewAdminIngest(submitCh, admin, oracle),
		AdminToken: adminToken,
		Health:     observability.NewHealthChecker(),
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiHarness{t: t, srv: srv, p: p, metrics: metrics, now: genesis}
}

func (h *apiHarness) commandBody(caller uuid.UUID, fields map[string]any) map[string]any {
	h.now = h.now.Add(time.Second)
	body := map[string]any{
		"command_id":   uuid.NewString(),
		"caller":       caller.String(),
		"timestamp_us": h.now.UnixMicro(),
	}
	for k, v := range fields {
		body[k] = v
	}
	return body
}

// command posts a command body without credentials and returns the status
// and decoded body.
func (h *apiHarness) command(kind core.Kind, caller uuid.UUID, fields map[string]any) (int, map[string]any) {
	h.t.Helper()
	return h.send(http.MethodPost, "/v1/commands/"+string(kind), "", h.commandBody(caller, fields), nil)
}

// adminCommand posts a command body with the admin token.
func (h *apiHarness) adminCommand(kind core.Kind, caller uuid.UUID, fields map[string]any) (int, map[string]any) {
	h.t.Helper()
	return h.send(http.MethodPost, "/v1/commands/"+string(kind), adminToken, h.commandBody(caller, fields), nil)
}

func (h *apiHarness) mustOK(status int, body map[string]any) {
	h.t.Helper()
	if status != http.StatusOK {
		h.t.Fatalf("status %d, body %v", status, body)
	}
}

func (h *apiHarness) post(path string, body any) (int, map[string]any) {
	h.t.Helper()
	return h.send(http.MethodPost, path, "", body, nil)
}

func (h *apiHarness) adminPost(path string, body any) (int, map[string]any) {
	h.t.Helper()
	return h.send(http.MethodPost, path, adminToken, body, nil)
}

func (h *apiHarness) get(path string, out any) int {
	h.t.Helper()
	status, _ := h.send(http.MethodGet, path, "", nil, out)
	return status
}

// send issues a request, with a bearer token when token is set. The
// response is decoded into out, or into the returned map when out is nil.
func (h *apiHarness) send(method, path, token string, body, out any) (int, map[string]any) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		h.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	} else {
		json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp.StatusCode, decoded
}

// bootstrap lists USDC ($1, 6 decimals) and gives alice 100 USDC of liquidity.
func (h *apiHarness) bootstrap() {
	h.t.Helper()
	h.mustOK(h.adminPost("/v1/admin/price", map[string]any{"asset": "USDC", "price": 100_000_000, "price_sequence": 1}))
	h.mustOK(h.adminCommand(core.KindSetAssetConfig, admin, map[string]any{
		"asset": "USDC", "decimals": 6, "weight": 1, "is_whitelisted": true, "is_stable": true,
	}))
	h.mustOK(h.adminPost("/v1/admin/deposit", map[string]any{"account": alice.String(), "asset": "USDC", "amount": 100_000_000}))
	h.mustOK(h.command(core.KindAddLiquidity, alice, map[string]any{"asset": "USDC", "amount": 100_000_000}))
}

// ============================================================================
// Commands
// ============================================================================

func TestSubmitCommand_AppliesAndReportsSequence(t *testing.T) {
	h := newAPIHarness(t)
	h.bootstrap()

	if got := h.p.Sequence(); got != 4 {
		t.Fatalf("sequence: got %d, want 4", got)
	}

	var asset query.AssetResponse
	if status := h.get("/v1/assets/USDC", &asset); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if asset.PoolAmount != 100_000_000 {
		t.Errorf("pool amount: got %d", asset.PoolAmount)
	}

	var supply query.ShareSupplyResponse
	h.get("/v1/shares", &supply)
	if supply.TotalSupply != 100_00000000 {
		t.Errorf("share supply: got %d, want 100e8", supply.TotalSupply)
	}
	if supply.AsOfSequence != 4 {
		t.Errorf("as_of_sequence: got %d, want 4", supply.AsOfSequence)
	}
}

func TestSubmitCommand_DuplicateIsAcknowledged(t *testing.T) {
	h := newAPIHarness(t)
	body := map[string]any{
		"command_id":   uuid.NewString(),
		"caller":       admin.String(),
		"timestamp_us": genesis.UnixMicro(),
		"swap_fee_bps": 30,
	}

	status, first := h.adminPost("/v1/commands/set_fees", body)
	if status != http.StatusOK || first["duplicate"] != false {
		t.Fatalf("first: status %d, body %v", status, first)
	}
	status, second := h.adminPost("/v1/commands/set_fees", body)
	if status != http.StatusOK || second["duplicate"] != true {
		t.Fatalf("second: status %d, body %v", status, second)
	}
	if h.p.Sequence() != 1 {
		t.Errorf("duplicate must not advance the sequence, got %d", h.p.Sequence())
	}
}

func TestSubmitCommand_ErrorMapping(t *testing.T) {
	h := newAPIHarness(t)
	h.bootstrap()

	btc := map[string]any{"asset": "BTC", "decimals": 8, "weight": 1, "is_whitelisted": true}
	tests := []struct {
		name   string
		kind   core.Kind
		caller uuid.UUID
		token  bool
		fields map[string]any
		status int
		class  string
	}{
		{"non-governor config", core.KindSetAssetConfig, alice, true, btc, http.StatusForbidden, "permission_denied"},
		{"config without token", core.KindSetAssetConfig, admin, false, btc, http.StatusForbidden, "permission_denied"},
		{"price on public route", core.KindSetPrice, oracle, true, map[string]any{"asset": "USDC", "price": 1, "price_sequence": 2}, http.StatusForbidden, "permission_denied"},
		{"deposit on public route", core.KindDeposit, admin, true, map[string]any{"asset": "USDC", "amount": 1_000_000_000_000}, http.StatusForbidden, "permission_denied"},
		{"unknown asset", core.KindAddLiquidity, alice, false, map[string]any{"asset": "DOGE", "amount": 1}, http.StatusNotFound, "not_found"},
		{"zero liquidity", core.KindAddLiquidity, alice, false, map[string]any{"asset": "USDC", "amount": 0}, http.StatusConflict, "invalid_state"},
		{"unknown kind", core.Kind("liquidate"), alice, false, nil, http.StatusBadRequest, "parse"},
		{"missing asset", core.KindAddLiquidity, alice, false, map[string]any{"amount": 1}, http.StatusBadRequest, "parse"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			send := h.command
			if tc.token {
				send = h.adminCommand
			}
			status, body := send(tc.kind, tc.caller, tc.fields)
			if status != tc.status {
				t.Fatalf("status: got %d, want %d (body %v)", status, tc.status, body)
			}
			if body["class"] != tc.class {
				t.Errorf("class: got %v, want %s", body["class"], tc.class)
			}
		})
	}

	if got := h.p.Sequence(); got != 4 {
		t.Errorf("rejected commands must not advance the sequence, got %d", got)
	}
	if price, _ := h.p.PriceFeed().GetPrice("USDC"); price != 100_000_000 {
		t.Errorf("USDC price moved to %d", price)
	}
	if got := h.p.Custody().BalanceOf("USDC", admin); got != 0 {
		t.Errorf("refused deposit credited %d", got)
	}
}

// ============================================================================
// Queries
// ============================================================================

func TestQueries_NotFoundAndParseErrors(t *testing.T) {
	h := newAPIHarness(t)
	h.bootstrap()

	tests := []struct {
		path   string
		status int
	}{
		{"/v1/assets/DOGE", http.StatusNotFound},
		{"/v1/assets/DOGE/price", http.StatusNotFound},
		{"/v1/positions/not-a-uuid", http.StatusBadRequest},
		{"/v1/positions/" + alice.String() + "/USDC/USDC/sideways", http.StatusBadRequest},
		{"/v1/positions/" + alice.String() + "/USDC/USDC/short", http.StatusNotFound},
		{"/v1/quote/swap?asset_in=USDC&asset_out=USDC&amount_in=abc", http.StatusBadRequest},
		{"/v1/quote/swap?asset_in=USDC&asset_out=USDC&amount_in=0", http.StatusUnprocessableEntity},
		{"/v1/positions/" + alice.String() + "/projected", http.StatusConflict},
		{"/v1/assets/USDC/funding?limit=x", http.StatusBadRequest},
	}
	for _, tc := range tests {
		if got := h.get(tc.path, nil); got != tc.status {
			t.Errorf("GET %s: got %d, want %d", tc.path, got, tc.status)
		}
	}
}

func TestQueries_LiveState(t *testing.T) {
	h := newAPIHarness(t)
	h.bootstrap()

	var assets []query.AssetResponse
	if status := h.get("/v1/assets", &assets); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if len(assets) != 1 || assets[0].Asset != "USDC" {
		t.Fatalf("assets: %+v", assets)
	}

	var bal query.BalanceResponse
	h.get(fmt.Sprintf("/v1/balances/%s/PLP", alice), &bal)
	if !bal.IsShare || bal.Balance != 100_00000000 {
		t.Errorf("share balance: %+v", bal)
	}

	var price query.PriceResponse
	h.get("/v1/assets/USDC/price", &price)
	if price.Price != 100_000_000 || price.Display.String() != "1" {
		t.Errorf("price: %+v", price)
	}

	var report query.IntegrityReport
	if status, _ := h.send(http.MethodGet, "/v1/admin/integrity", adminToken, nil, &report); status != http.StatusOK {
		t.Fatalf("integrity status %d", status)
	}
	if !report.IsHealthy {
		t.Errorf("expected healthy report: %+v", report)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	if got := h.get("/healthz", nil); got != http.StatusOK {
		t.Errorf("healthz: got %d", got)
	}
	if got := h.get("/readyz", nil); got != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d", got)
	}
}

// ============================================================================
// Admin
// ============================================================================

func TestAdminInjectEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.adminPost("/v1/admin/price", map[string]any{"asset": "USDC", "price": 100_000_000, "price_sequence": 1})
	if status != http.StatusOK {
		t.Fatalf("price: status %d, body %v", status, body)
	}

	status, body = h.adminPost("/v1/admin/deposit", map[string]any{"account": alice.String(), "asset": "USDC", "amount": 5_000_000})
	if status != http.StatusOK {
		t.Fatalf("deposit: status %d, body %v", status, body)
	}
	if got := h.p.Custody().BalanceOf("USDC", alice); got != 5_000_000 {
		t.Errorf("alice balance: got %d", got)
	}

	status, _ = h.adminPost("/v1/admin/deposit", map[string]any{"account": alice.String(), "asset": "USDC", "amount": 5, "memo": "x"})
	if status != http.StatusBadRequest {
		t.Errorf("unknown field: got %d, want 400", status)
	}

	status, _ = h.adminPost("/v1/admin/price", map[string]any{"asset": "USDC", "price": 100_000_000, "price_sequence": 1})
	if status != http.StatusConflict {
		t.Errorf("stale price: got %d, want 409", status)
	}

	status, _ = h.adminPost("/v1/admin/projections/rebuild", map[string]any{})
	if status != http.StatusConflict {
		t.Errorf("rebuild without db: got %d, want 409", status)
	}
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	h := newAPIHarness(t)

	paths := []string{"/v1/admin/price", "/v1/admin/deposit", "/v1/admin/funding/USDC", "/v1/admin/projections/rebuild"}
	bodies := []map[string]any{
		{"asset": "BTC", "price": 1, "price_sequence": 1},
		{"account": alice.String(), "asset": "USDC", "amount": 1_000_000_000_000},
		{},
		{},
	}
	for i, path := range paths {
		if status, _ := h.post(path, bodies[i]); status != http.StatusForbidden {
			t.Errorf("POST %s without token: got %d, want 403", path, status)
		}
		if status, _ := h.send(http.MethodPost, path, "wrong-token", bodies[i], nil); status != http.StatusForbidden {
			t.Errorf("POST %s with wrong token: got %d, want 403", path, status)
		}
	}
	if status := h.get("/v1/admin/integrity", nil); status != http.StatusForbidden {
		t.Errorf("integrity without token: got %d, want 403", status)
	}

	if _, err := h.p.PriceFeed().GetPrice("BTC"); err == nil {
		t.Error("unauthenticated price was applied")
	}
	if got := h.p.Custody().BalanceOf("USDC", alice); got != 0 {
		t.Errorf("unauthenticated deposit credited %d", got)
	}
	if h.p.Sequence() != 0 {
		t.Errorf("sequence moved to %d", h.p.Sequence())
	}
}

func TestAdminRoutes_DisabledWithoutToken(t *testing.T) {
	api, err := server.NewHTTPServer(":0", server.HTTPDeps{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/price", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403", rec.Code)
	}
}

// ============================================================================
// Error mapping and metrics
// ============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", ingestion.ErrParse), http.StatusBadRequest},
		{fmt.Errorf("op: %w", vault.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("op: %w", vault.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("op: %w", vault.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("op: %w", vault.ErrOutOfRange), http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := server.StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestQueryMetricsRecorded(t *testing.T) {
	h := newAPIHarness(t)
	h.get("/v1/fees", nil)
	h.get("/v1/assets/DOGE", nil)

	if got := metricValue(t, h.metrics.QueryRequests.WithLabelValues("fees", "200")); got != 1 {
		t.Errorf("fees 200: got %v", got)
	}
	if got := metricValue(t, h.metrics.QueryRequests.WithLabelValues("asset", "404")); got != 1 {
		t.Errorf("asset 404: got %v", got)
	}
}

func TestSubmitCommand_ContextTimeout(t *testing.T) {
	// Nothing drains the submission channel.
	submitCh := make(chan core.Submission)
	api, err := server.NewHTTPServer(":0", server.HTTPDeps{SubmitCh: submitCh, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}

	body := fmt.Sprintf(`{"command_id":%q,"caller":%q,"timestamp_us":1,"asset":"USDC","amount":1}`,
		uuid.NewString(), alice)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/add_liquidity", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rec.Code)
	}
}

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type")
	return 0
}
