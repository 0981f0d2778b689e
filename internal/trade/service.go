// Package trade provides the HTTP handlers over the simulation: market and
// portfolio queries, buy/sell commands, the tick loop and the trade journal.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrade/internal/market"
	"github.com/atmx/papertrade/internal/metrics"
	"github.com/atmx/papertrade/internal/model"
	"github.com/atmx/papertrade/internal/order"
	"github.com/atmx/papertrade/internal/portfolio"
	"github.com/atmx/papertrade/internal/sim"
	"github.com/atmx/papertrade/internal/store"
)

// Service exposes one simulation over HTTP. The controller serializes
// simulation state; flushMu keeps journal writes in emission order when
// the tick loop and a request flush at the same time.
type Service struct {
	ctrl    *sim.Controller
	store   store.Store
	session *model.Session
	wsHub   *WSHub // optional WebSocket hub for real-time broadcasts

	flushMu sync.Mutex
	now     func() time.Time
}

// NewService creates a new trade service for an already registered session.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(ctrl *sim.Controller, st store.Store, session *model.Session, hub *WSHub) *Service {
	return &Service{
		ctrl:    ctrl,
		store:   st,
		session: session,
		wsHub:   hub,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// StartSession registers a new simulator run in the journal.
func StartSession(ctx context.Context, st store.Store, trader string, cash decimal.Decimal, seed uint64) (*model.Session, error) {
	session := &model.Session{
		ID:           uuid.New().String(),
		Trader:       trader,
		StartingCash: cash,
		Seed:         seed,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Session returns the journal session this service writes to.
func (s *Service) Session() *model.Session {
	return s.session
}

// Routes mounts the API under r. The caller owns middleware and mounts
// the WebSocket endpoint itself.
func (s *Service) Routes(r chi.Router) {
	r.Get("/market", s.GetMarket)
	r.Get("/market/{ticker}", s.GetSecurity)
	r.Post("/market/select", s.SelectMarket)

	r.Post("/tick", s.AdvanceTick)

	r.Post("/buy", s.Buy)
	r.Post("/sell", s.Sell)

	r.Get("/portfolio", s.GetPortfolio)
	r.Post("/portfolio/select", s.SelectHolding)

	r.Get("/ledger", s.GetLedger)
	r.Get("/ledger/{ticker}", s.GetTickerLedger)
}

// --- Request/Response types ---

// SelectMarketRequest is the JSON body for POST /market/select.
type SelectMarketRequest struct {
	Direction string `json:"direction"` // "prev" or "next"
}

// SelectHoldingRequest is the JSON body for POST /portfolio/select.
// A missing or negative index clears the selection.
type SelectHoldingRequest struct {
	Index *int `json:"index"`
}

// BuyRequest is the JSON body for POST /buy. The security bought is the
// market's current selection.
type BuyRequest struct {
	Shares        decimal.Decimal  `json:"shares"`
	StopLossPrice *decimal.Decimal `json:"stop_loss_price,omitempty"`
}

// SellRequest is the JSON body for POST /sell. Without holding_index the
// selected holding is sold.
type SellRequest struct {
	HoldingIndex *int            `json:"holding_index,omitempty"`
	Shares       decimal.Decimal `json:"shares"`
}

// BuyResponse is returned from POST /buy.
type BuyResponse struct {
	Holding model.Holding   `json:"holding"`
	Cost    decimal.Decimal `json:"cost"`
	Cash    decimal.Decimal `json:"cash"`
}

// SellResponse is returned from POST /sell.
type SellResponse struct {
	Receipt model.SaleReceipt `json:"receipt"`
	Cash    decimal.Decimal   `json:"cash"`
}

// TickResponse is returned from POST /tick.
type TickResponse struct {
	Tick   int64         `json:"tick"`
	Events []model.Event `json:"events"`
}

// --- HTTP Handlers ---

// GetMarket handles GET /api/v1/market
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.MarketSnapshot())
}

// GetSecurity handles GET /api/v1/market/{ticker}
func (s *Service) GetSecurity(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))

	view, err := s.ctrl.Security(ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SelectMarket handles POST /api/v1/market/select
func (s *Service) SelectMarket(w http.ResponseWriter, r *http.Request) {
	var req SelectMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dir, err := market.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.ctrl.SelectMarket(dir)
	writeJSON(w, http.StatusOK, s.ctrl.MarketSnapshot())
}

// AdvanceTick handles POST /api/v1/tick
// Advances the market one step and runs the stop-loss sweep.
func (s *Service) AdvanceTick(w http.ResponseWriter, r *http.Request) {
	events := s.Step(r.Context())
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, TickResponse{Tick: s.ctrl.Tick(), Events: events})
}

// Buy handles POST /api/v1/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	shares, err := wholeShares(req.Shares)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.KindBuy).Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h, err := s.ctrl.Buy(shares, req.StopLossPrice)
	s.Flush(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, BuyResponse{
		Holding: h,
		Cost:    h.BuyPrice.Mul(decimal.NewFromInt(h.Shares)),
		Cash:    s.ctrl.Cash(),
	})
}

// Sell handles POST /api/v1/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	shares, err := wholeShares(req.Shares)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(model.KindSell).Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var receipt model.SaleReceipt
	if req.HoldingIndex != nil {
		receipt, err = s.ctrl.Sell(*req.HoldingIndex, shares)
	} else {
		receipt, err = s.ctrl.SellSelected(shares)
	}
	s.Flush(r.Context())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, SellResponse{Receipt: receipt, Cash: s.ctrl.Cash()})
}

// GetPortfolio handles GET /api/v1/portfolio
// Returns cash and holdings marked to the current market.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.PortfolioSnapshot())
}

// SelectHolding handles POST /api/v1/portfolio/select
func (s *Service) SelectHolding(w http.ResponseWriter, r *http.Request) {
	var req SelectHoldingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}

	if err := s.ctrl.SelectHolding(index); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.PortfolioSnapshot())
}

// GetLedger handles GET /api/v1/ledger
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetLedgerEntriesBySession(r.Context(), s.session.ID)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetTickerLedger handles GET /api/v1/ledger/{ticker}
func (s *Service) GetTickerLedger(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))

	entries, err := s.store.GetLedgerEntriesByTicker(r.Context(), s.session.ID, ticker)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Tick loop ---

// Step advances the simulation one tick, publishes the result and returns
// the stop-loss events it produced.
func (s *Service) Step(ctx context.Context) []model.Event {
	events := s.ctrl.AdvanceTick()
	metrics.TicksTotal.Inc()
	s.Flush(ctx)
	s.publishTick()
	return events
}

// Run advances the simulation every interval until ctx is cancelled.
// A non-positive interval returns immediately.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("tick loop started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("tick loop stopped", "tick", s.ctrl.Tick())
			return
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Flush drains queued simulation events into the journal, the metrics and
// the WebSocket hub. Journal failures are logged; they never undo a trade.
func (s *Service) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	// The request may already be cancelled; the journal write must not be.
	ctx = context.WithoutCancel(ctx)

	for _, ev := range s.ctrl.DrainEvents() {
		switch ev.Type {
		case model.EventTradeExecuted:
			metrics.TradesTotal.WithLabelValues(ev.Side).Inc()
			s.journal(ctx, ev, ev.Side)
		case model.EventStopLossTriggered:
			metrics.StopLossTriggers.WithLabelValues(ev.Ticker).Inc()
			s.journal(ctx, ev, model.KindStopLoss)
		case model.EventTradeRejected:
			metrics.TradeRejections.WithLabelValues(ev.Side).Inc()
		}

		if s.wsHub != nil {
			s.wsHub.Broadcast(WSMessage{Type: string(ev.Type), Tick: ev.Tick, Event: &ev})
		}
	}

	snap := s.ctrl.PortfolioSnapshot()
	metrics.Cash.Set(snap.Cash.InexactFloat64())
	metrics.OpenHoldings.Set(float64(len(snap.Holdings)))
}

func (s *Service) journal(ctx context.Context, ev model.Event, kind string) {
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		SessionID: s.session.ID,
		Tick:      ev.Tick,
		Kind:      kind,
		Ticker:    ev.Ticker,
		Shares:    ev.Shares,
		Price:     ev.Price,
		CashDelta: ev.CashDelta,
		Timestamp: s.now(),
	}
	if ev.Holding != nil {
		entry.HoldingID = ev.Holding.ID
	}
	if ev.Profit != nil {
		entry.Profit = *ev.Profit
	}

	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		metrics.JournalErrors.Inc()
		slog.Error("failed to journal trade",
			"session", s.session.ID,
			"kind", kind,
			"ticker", ev.Ticker,
			"err", err,
		)
	}
}

func (s *Service) publishTick() {
	snap := s.ctrl.MarketSnapshot()
	prices := make(map[string]string, len(snap.Securities))
	for _, sec := range snap.Securities {
		metrics.SecurityPrice.WithLabelValues(sec.Ticker).Set(sec.Price.InexactFloat64())
		prices[sec.Ticker] = sec.Price.String()
	}
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "tick", Tick: snap.Tick, Prices: prices})
	}
}

var (
	maxShares = decimal.NewFromInt(math.MaxInt64)
	minShares = decimal.NewFromInt(math.MinInt64)
)

// wholeShares converts a JSON share count to an integer. Fractional and
// out-of-range counts are rejected here; sign and zero are left to the
// portfolio.
func wholeShares(q decimal.Decimal) (int64, error) {
	if !q.IsInteger() {
		return 0, fmt.Errorf("%w: shares must be a whole number, got %s", portfolio.ErrInvalidQuantity, q)
	}
	// IntPart keeps only the low 64 bits.
	if q.GreaterThan(maxShares) || q.LessThan(minShares) {
		return 0, fmt.Errorf("%w: shares out of range, got %s", portfolio.ErrInvalidQuantity, q)
	}
	return q.IntPart(), nil
}

// statusFor maps simulation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrInvalidQuantity),
		errors.Is(err, order.ErrInvalidStopLoss):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, portfolio.ErrNoSelection),
		errors.Is(err, market.ErrUnknownTicker):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
