package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/observability"
	"PerpVault/internal/projection"
	"PerpVault/internal/query"
	"PerpVault/internal/vault"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// HTTPDeps holds everything the HTTP surface needs. Only Query and
// SubmitCh are required. With an empty AdminToken the admin routes and
// governor commands are refused.
type HTTPDeps struct {
	Query      *query.QueryService
	SubmitCh   chan<- core.Submission
	Admin      *ingestion.AdminIngest
	AdminToken string
	Hub        *WSHub
	Health     *observability.HealthChecker
	DB         *sql.DB // projection rebuilds
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// HTTPServer serves the JSON API on a grpc-gateway runtime mux, plus
// health endpoints and the websocket stream on a plain mux.
type HTTPServer struct {
	addr        string
	deps        HTTPDeps
	adminDigest []byte
	handler     http.Handler
	server      *http.Server
}

type handlerFunc func(r *http.Request, params map[string]string) (any, error)

func NewHTTPServer(addr string, deps HTTPDeps) (*HTTPServer, error) {
	s := &HTTPServer{addr: addr, deps: deps}
	if deps.AdminToken != "" {
		sum := sha256.Sum256([]byte(deps.AdminToken))
		s.adminDigest = sum[:]
	}

	gw := runtime.NewServeMux()
	routes := []struct {
		method, pattern, endpoint string
		h                         handlerFunc
	}{
		{"POST", "/v1/commands/{kind}", "submit_command", s.submitCommand},

		{"GET", "/v1/assets", "assets", s.assets},
		{"GET", "/v1/assets/{asset}", "asset", s.asset},
		{"GET", "/v1/assets/{asset}/price", "price", s.price},
		{"GET", "/v1/assets/{asset}/funding", "funding_history", s.fundingHistory},
		{"GET", "/v1/assets/{asset}/stats", "asset_stats", s.assetStats},
		{"GET", "/v1/positions/{trader}", "positions", s.positions},
		{"GET", "/v1/positions/{trader}/projected", "projected_positions", s.projectedPositions},
		{"GET", "/v1/positions/{trader}/pnl", "pnl_history", s.pnlHistory},
		{"GET", "/v1/positions/{trader}/{collateral}/{index}/{side}", "position", s.position},
		{"GET", "/v1/positions/{trader}/{collateral}/{index}/{side}/delta", "position_delta", s.positionDelta},
		{"GET", "/v1/balances/{account}/{asset}", "balance", s.balance},
		{"GET", "/v1/fees", "fees", s.fees},
		{"GET", "/v1/shares", "share_supply", s.shareSupply},
		{"GET", "/v1/quote/swap", "swap_quote", s.swapQuote},

		{"GET", "/v1/admin/integrity", "verify_integrity", s.requireAdmin(s.verifyIntegrity)},
		{"POST", "/v1/admin/deposit", "inject_deposit", s.requireAdmin(s.injectDeposit)},
		{"POST", "/v1/admin/price", "inject_price", s.requireAdmin(s.injectPrice)},
		{"POST", "/v1/admin/funding/{asset}", "inject_accrue_funding", s.requireAdmin(s.injectAccrueFunding)},
		{"POST", "/v1/admin/projections/rebuild", "rebuild_projections", s.requireAdmin(s.rebuildProjections)},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, s.instrument(rt.endpoint, rt.h)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	mux := http.NewServeMux()
	if deps.Health != nil {
		mux.HandleFunc("/healthz", deps.Health.LivenessHandler)
		mux.HandleFunc("/readyz", deps.Health.ReadinessHandler)
	}
	if deps.Hub != nil {
		mux.HandleFunc("/v1/ws", deps.Hub.HandleWS)
	}
	mux.Handle("/", gw)

	s.handler = mux
	return s, nil
}

// Handler exposes the full route table, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.deps.Logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.deps.Logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) instrument(endpoint string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := h(r, params)

		status := http.StatusOK
		if err != nil {
			status = StatusFor(err)
			if status == http.StatusInternalServerError {
				s.deps.Logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
			writeJSON(w, status, ErrorResponse{Error: err.Error(), Class: errorClass(err)})
		} else {
			writeJSON(w, status, resp)
		}

		if m := s.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// StatusFor maps the error taxonomy to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, vault.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorClass(err error) string {
	if errors.Is(err, ingestion.ErrParse) {
		return "parse"
	}
	return vault.Class(err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ============================================================================
// Commands
// ============================================================================

// CommandResponse is returned for every accepted command.
type CommandResponse struct {
	CommandID uuid.UUID `json:"command_id"`
	Kind      core.Kind `json:"kind"`
	Sequence  int64     `json:"sequence"`
	Amount    int64     `json:"amount"`
	Duplicate bool      `json:"duplicate"`
	Events    int       `json:"events"`
}

func (s *HTTPServer) submitCommand(r *http.Request, params map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ingestion.ErrParse, err)
	}
	kind := core.Kind(params["kind"])
	switch kind.Access() {
	case core.AccessInternal:
		return nil, fmt.Errorf("%w: %s is only accepted through the admin API", vault.ErrPermissionDenied, kind)
	case core.AccessGovernor:
		if err := s.checkAdmin(r); err != nil {
			return nil, err
		}
	}
	cmd, err := ingestion.ParseCommand(kind, body)
	if err != nil {
		return nil, err
	}
	res, err := core.Submit(r.Context(), s.deps.SubmitCh, cmd)
	if err != nil {
		return nil, err
	}
	return resultResponse(cmd, res), nil
}

func resultResponse(cmd *core.Command, res core.Result) CommandResponse {
	return CommandResponse{
		CommandID: cmd.ID,
		Kind:      cmd.Kind(),
		Sequence:  res.Sequence,
		Amount:    res.Amount,
		Duplicate: res.Duplicate,
		Events:    len(res.Events),
	}
}

// ============================================================================
// Live queries
// ============================================================================

func (s *HTTPServer) assets(_ *http.Request, _ map[string]string) (any, error) {
	return s.deps.Query.Assets(), nil
}

func (s *HTTPServer) asset(_ *http.Request, params map[string]string) (any, error) {
	return s.deps.Query.Asset(params["asset"])
}

func (s *HTTPServer) price(_ *http.Request, params map[string]string) (any, error) {
	return s.deps.Query.Price(params["asset"])
}

func (s *HTTPServer) positions(_ *http.Request, params map[string]string) (any, error) {
	trader, err := parseUUID("trader", params["trader"])
	if err != nil {
		return nil, err
	}
	return s.deps.Query.Positions(trader), nil
}

func (s *HTTPServer) position(_ *http.Request, params map[string]string) (any, error) {
	key, err := positionKey(params)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.Position(key)
}

func (s *HTTPServer) positionDelta(_ *http.Request, params map[string]string) (any, error) {
	key, err := positionKey(params)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.PositionDelta(key)
}

func (s *HTTPServer) balance(_ *http.Request, params map[string]string) (any, error) {
	account, err := parseUUID("account", params["account"])
	if err != nil {
		return nil, err
	}
	return s.deps.Query.Balance(account, params["asset"]), nil
}

func (s *HTTPServer) fees(_ *http.Request, _ map[string]string) (any, error) {
	return s.deps.Query.Fees(), nil
}

func (s *HTTPServer) shareSupply(_ *http.Request, _ map[string]string) (any, error) {
	return s.deps.Query.ShareSupply(), nil
}

func (s *HTTPServer) swapQuote(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	amountIn, err := parseInt("amount_in", q.Get("amount_in"))
	if err != nil {
		return nil, err
	}
	return s.deps.Query.SwapQuote(q.Get("asset_in"), q.Get("asset_out"), amountIn)
}

// ============================================================================
// Projection queries
// ============================================================================

func (s *HTTPServer) projectedPositions(r *http.Request, params map[string]string) (any, error) {
	trader, err := parseUUID("trader", params["trader"])
	if err != nil {
		return nil, err
	}
	return s.deps.Query.ProjectedPositions(r.Context(), trader)
}

func (s *HTTPServer) fundingHistory(r *http.Request, params map[string]string) (any, error) {
	limit, before, err := pageParams(r)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.FundingHistory(r.Context(), params["asset"], limit, before)
}

func (s *HTTPServer) pnlHistory(r *http.Request, params map[string]string) (any, error) {
	trader, err := parseUUID("trader", params["trader"])
	if err != nil {
		return nil, err
	}
	limit, before, err := pageParams(r)
	if err != nil {
		return nil, err
	}
	return s.deps.Query.PnLHistory(r.Context(), trader, limit, before)
}

func (s *HTTPServer) assetStats(r *http.Request, params map[string]string) (any, error) {
	return s.deps.Query.AssetStats(r.Context(), params["asset"])
}

// ============================================================================
// Admin
// ============================================================================

var (
	errAdminDisabled = fmt.Errorf("%w: admin API not configured", vault.ErrPermissionDenied)
	errNoAdminIngest = fmt.Errorf("%w: admin ingest not configured", vault.ErrInvalidState)
)

// checkAdmin compares the request's bearer token with the configured admin
// token in constant time.
func (s *HTTPServer) checkAdmin(r *http.Request) error {
	if s.adminDigest == nil {
		return errAdminDisabled
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	got := sha256.Sum256([]byte(token))
	if !ok || subtle.ConstantTimeCompare(s.adminDigest, got[:]) != 1 {
		return fmt.Errorf("%w: admin token required", vault.ErrPermissionDenied)
	}
	return nil
}

func (s *HTTPServer) requireAdmin(h handlerFunc) handlerFunc {
	return func(r *http.Request, params map[string]string) (any, error) {
		if err := s.checkAdmin(r); err != nil {
			return nil, err
		}
		return h(r, params)
	}
}

func (s *HTTPServer) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return s.deps.Query.VerifyIntegrity(r.Context())
}

type depositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  int64  `json:"amount"`
}

type priceRequest struct {
	Asset         string `json:"asset"`
	Price         int64  `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

func (s *HTTPServer) injectDeposit(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Admin == nil {
		return nil, errNoAdminIngest
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	account, err := parseUUID("account", req.Account)
	if err != nil {
		return nil, err
	}
	return s.deps.Admin.InjectDeposit(r.Context(), account, req.Asset, req.Amount)
}

func (s *HTTPServer) injectPrice(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.Admin == nil {
		return nil, errNoAdminIngest
	}
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.deps.Admin.InjectPrice(r.Context(), req.Asset, req.Price, req.PriceSequence)
}

func (s *HTTPServer) injectAccrueFunding(r *http.Request, params map[string]string) (any, error) {
	if s.deps.Admin == nil {
		return nil, errNoAdminIngest
	}
	return s.deps.Admin.InjectAccrueFunding(r.Context(), params["asset"])
}

type rebuildResponse struct {
	Rebuilt bool  `json:"rebuilt"`
	TookMs  int64 `json:"took_ms"`
}

func (s *HTTPServer) rebuildProjections(r *http.Request, _ map[string]string) (any, error) {
	if s.deps.DB == nil {
		return nil, fmt.Errorf("%w: no database configured", vault.ErrInvalidState)
	}
	start := time.Now()
	if err := projection.RebuildProjections(r.Context(), s.deps.DB, 1000, s.deps.Logger); err != nil {
		return nil, err
	}
	return rebuildResponse{Rebuilt: true, TookMs: time.Since(start).Milliseconds()}, nil
}

// ============================================================================
// Request parsing
// ============================================================================

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", ingestion.ErrParse, err)
	}
	return nil
}

func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", ingestion.ErrParse, field, err)
	}
	return id, nil
}

func parseInt(field, s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ingestion.ErrParse, field, err)
	}
	return v, nil
}

// pageParams reads ?limit= and ?before= (an event sequence cursor).
func pageParams(r *http.Request) (int, *int64, error) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		v, err := parseInt("limit", s)
		if err != nil {
			return 0, nil, err
		}
		limit = int(v)
	}
	var before *int64
	if s := q.Get("before"); s != "" {
		v, err := parseInt("before", s)
		if err != nil {
			return 0, nil, err
		}
		before = &v
	}
	return limit, before, nil
}

func positionKey(params map[string]string) (vault.PositionKey, error) {
	trader, err := parseUUID("trader", params["trader"])
	if err != nil {
		return vault.PositionKey{}, err
	}
	var isLong bool
	switch params["side"] {
	case "long":
		isLong = true
	case "short":
	default:
		return vault.PositionKey{}, fmt.Errorf("%w: side must be long or short", ingestion.ErrParse)
	}
	return vault.PositionKey{
		Trader:     trader,
		Collateral: vault.AssetID(params["collateral"]),
		Index:      vault.AssetID(params["index"]),
		IsLong:     isLong,
	}, nil
}
