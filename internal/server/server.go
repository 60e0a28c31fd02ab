package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"stampbuy/internal/config"
	"stampbuy/internal/dispenser"
	"stampbuy/internal/fees"
	"stampbuy/internal/hmacauth"
	"stampbuy/internal/idempotency"
	"stampbuy/internal/logging"
	"stampbuy/internal/purchase"
	"stampbuy/internal/wallet"
)

const headerIdempotencyKey = "X-Idempotency-Key"

// FeeView exposes the latest fee recommendation.
type FeeView interface {
	Latest() (fees.Recommended, time.Time, bool)
}

type Deps struct {
	Purchases *purchase.Manager
	Wallet    wallet.Wallet
	Fees      FeeView
	Store     idempotency.Store
	Log       slog.Logger
}

type Server struct {
	cfg        *config.AppConfig
	purchases  *purchase.Manager
	wallet     wallet.Wallet
	fees       FeeView
	store      idempotency.Store
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	log        slog.Logger
	dbHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		purchases: deps.Purchases,
		wallet:    deps.Wallet,
		fees:      deps.Fees,
		store:     deps.Store,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: newMetricsRegistry(deps.Purchases),
		log:     logging.OrDisabled(deps.Log),
	}

	if checker, ok := deps.Store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	signed := func(h http.HandlerFunc) http.Handler { return s.hmac.Middleware(h) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/purchases", signed(s.handleOpen))
	mux.HandleFunc("GET /api/v1/purchases/{id}", s.handleGet)
	mux.Handle("PATCH /api/v1/purchases/{id}", signed(s.handleEdit))
	mux.Handle("POST /api/v1/purchases/{id}/submit", signed(s.handleSubmit))
	mux.Handle("DELETE /api/v1/purchases/{id}", signed(s.handleClose))
	mux.HandleFunc("GET /api/v1/wallet", s.handleWallet)
	mux.HandleFunc("GET /api/v1/fees", s.handleFees)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Infof("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type openRequest struct {
	Stamp     string              `json:"stamp"`
	Dispenser dispenser.Dispenser `json:"dispenser"`
	FeeRate   int64               `json:"fee_rate"`
}

// editRequest fields are optional. Quantity is raw user input and may be a
// JSON string or number.
type editRequest struct {
	Quantity  json.RawMessage      `json:"quantity"`
	FeeRate   *int64               `json:"fee_rate"`
	Agreed    *bool                `json:"agreed_to_terms"`
	Dispenser *dispenser.Dispenser `json:"dispenser"`
}

type submitResponse struct {
	Outcome purchase.Outcome `json:"outcome"`
	Status  purchase.Status  `json:"status"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload openRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateOpenRequest(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess := s.purchases.Open(payload.Stamp, payload.Dispenser, payload.FeeRate)
	s.metrics.incOpened()
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.purchases.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.purchases.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}

	var payload editRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.Dispenser != nil {
		if err := validateDispenser(*payload.Dispenser); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	view, err := sess.Edit(func(f *dispenser.Form) {
		// The dispenser goes first so quantity clamps against the new max.
		if payload.Dispenser != nil {
			f.SetDispenser(*payload.Dispenser)
		}
		if len(payload.Quantity) > 0 && string(payload.Quantity) != "null" {
			f.SetQuantityInput(quantityInput(payload.Quantity))
		}
		if payload.FeeRate != nil {
			f.SetFeeRate(*payload.FeeRate)
		}
		if payload.Agreed != nil {
			f.SetAgreed(*payload.Agreed)
		}
	})
	if errors.Is(err, purchase.ErrClosed) {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.purchases.Get(id)
	if !ok {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	storeKey := id + ":" + key
	if key != "" {
		existing, err := s.store.Get(ctx, storeKey)
		if err != nil {
			s.log.Warnf("Idempotency lookup for %s failed: %v", id, err)
		}
		if existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Body)
			s.metrics.incReplay()
			return
		}
	}

	// A dropped connection must not abandon a purchase halfway through
	// signing or broadcast.
	status, outcome := sess.Submit(context.WithoutCancel(ctx))
	s.metrics.incSubmit(outcome)

	code := http.StatusOK
	switch outcome {
	case purchase.OutcomeIgnored:
		code = http.StatusConflict
	case purchase.OutcomeDiscarded:
		code = http.StatusGone
	}

	body, err := json.Marshal(submitResponse{Outcome: outcome, Status: status})
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	if key != "" && outcome != purchase.OutcomeIgnored {
		now := time.Now()
		record := idempotency.Record{
			StatusCode: code,
			Body:       body,
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.cfg.Idempotency.Window),
		}
		if err := s.store.Save(ctx, storeKey, record); err != nil {
			s.log.Warnf("Idempotency save for %s failed: %v", id, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if !s.purchases.Close(r.PathValue("id")) {
		http.Error(w, "purchase not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.wallet.Current()
	resp := struct {
		Connected bool   `json:"connected"`
		Address   string `json:"address,omitempty"`
		Provider  string `json:"provider,omitempty"`
	}{
		Connected: s.wallet.IsConnected() && ok,
		Address:   acct.Address,
		Provider:  acct.Provider,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	rec, fetched, ok := s.fees.Latest()
	if !ok {
		http.Error(w, "fee recommendation not available yet", http.StatusServiceUnavailable)
		return
	}
	resp := struct {
		Recommended int64            `json:"recommended_fee"`
		Fees        fees.Recommended `json:"fees"`
		FetchedAt   time.Time        `json:"fetched_at"`
		MinFeeRate  int64            `json:"min_fee_rate"`
		MaxFeeRate  int64            `json:"max_fee_rate"`
	}{
		Recommended: rec.FastestFee,
		Fees:        rec,
		FetchedAt:   fetched.UTC(),
		MinFeeRate:  dispenser.MinFeeRate,
		MaxFeeRate:  dispenser.MaxFeeRate,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	_, fetched, feesReady := s.fees.Latest()
	feeInfo := struct {
		Ready     bool    `json:"ready"`
		AgeSecond float64 `json:"age_seconds,omitempty"`
	}{Ready: feesReady}
	if feesReady {
		feeInfo.AgeSecond = time.Since(fetched).Seconds()
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status          string `json:"status"`
		Database        any    `json:"database"`
		Fees            any    `json:"fees"`
		WalletConnected bool   `json:"wallet_connected"`
		OpenPurchases   int    `json:"open_purchases"`
	}{
		Status:          status,
		Database:        dbInfo,
		Fees:            feeInfo,
		WalletConnected: s.wallet.IsConnected(),
		OpenPurchases:   s.purchases.Len(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func validateOpenRequest(req openRequest) error {
	return validateDispenser(req.Dispenser)
}

// validateDispenser rejects snapshots no purchase could be built from.
func validateDispenser(d dispenser.Dispenser) error {
	if d.Source == "" {
		return errors.New("dispenser.source is required")
	}
	if d.SatoshiRate <= 0 {
		return errors.New("dispenser.satoshirate must be positive")
	}
	if d.GiveQuantity < 0 || d.GiveRemaining < 0 {
		return errors.New("dispenser quantities must not be negative")
	}
	return nil
}

// quantityInput turns a JSON string or number into the raw text a buyer
// typed.
func quantityInput(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(bytes.TrimSpace(raw))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		s.log.Tracef("%s %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
