// Package api serves the bot's read-only admin surface: health, Prometheus
// metrics, open wagers, balances and a live WebSocket feed of wager events.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/spikebot/spike/internal/metrics"
	"github.com/spikebot/spike/internal/model"
	"github.com/spikebot/spike/internal/store"
	"github.com/spikebot/spike/internal/wager"
)

// Server holds the handlers' dependencies.
type Server struct {
	engine *wager.Engine
	wagers store.Wagers
	ledger store.Ledger
	hub    *Hub
}

// NewServer creates a server. Pass nil for hub to disable /api/v1/ws.
func NewServer(engine *wager.Engine, wagers store.Wagers, ledger store.Ledger, hub *Hub) *Server {
	return &Server{engine: engine, wagers: wagers, ledger: ledger, hub: hub}
}

// OptionView is one wager option as served by the API.
type OptionView struct {
	Key         string          `json:"key"`
	Glyph       string          `json:"glyph"`
	Description string          `json:"description"`
	Bet         int64           `json:"bet"`
	Win         int64           `json:"win"`
	Odds        decimal.Decimal `json:"odds"`
	Bettors     []string        `json:"bettors"`
}

// WagerView is an open wager as served by the API.
type WagerView struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	ChannelID   string       `json:"channel_id"`
	MessageURL  string       `json:"message_url,omitempty"`
	Pot         int64        `json:"pot"`
	Options     []OptionView `json:"options"`
}

func viewOf(w *model.Wager) WagerView {
	v := WagerView{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		CreatedBy:   w.CreatedBy,
		CreatedAt:   w.CreatedAt,
		ChannelID:   w.ChannelID,
		MessageURL:  w.MessageURL,
		Pot:         w.Pot(),
		Options:     make([]OptionView, 0, len(w.Options)),
	}
	for _, key := range w.OptionKeys() {
		o := w.Options[key]
		v.Options = append(v.Options, OptionView{
			Key:         key,
			Glyph:       o.Glyph,
			Description: o.Description,
			Bet:         o.Bet,
			Win:         o.Win,
			Odds:        decimal.NewFromInt(o.Win).Div(decimal.NewFromInt(o.Bet)).Round(2),
			Bettors:     o.Bettors,
		})
	}
	return v
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
		r.With(middleware.Timeout(10*time.Second)).Group(func(r chi.Router) {
			r.Get("/wagers", s.ListWagers)
			r.Get("/wagers/{wagerID}", s.GetWager)
			r.Get("/accounts/{accountID}", s.GetAccount)
		})
	})
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"spike"}`))
}

// ListWagers handles GET /api/v1/wagers.
func (s *Server) ListWagers(w http.ResponseWriter, r *http.Request) {
	wagers, err := s.engine.Active(r.Context())
	if err != nil {
		writeError(w, "failed to list wagers", http.StatusInternalServerError)
		return
	}
	out := make([]WagerView, 0, len(wagers))
	for _, wg := range wagers {
		out = append(out, viewOf(wg))
	}
	writeJSON(w, out)
}

// GetWager handles GET /api/v1/wagers/{wagerID}.
func (s *Server) GetWager(w http.ResponseWriter, r *http.Request) {
	wg, err := s.wagers.Get(r.Context(), chi.URLParam(r, "wagerID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "wager not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load wager", http.StatusInternalServerError)
		return
	}
	writeJSON(w, viewOf(wg))
}

// GetAccount handles GET /api/v1/accounts/{accountID}.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "accountID")
	bal, err := s.ledger.Balance(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, model.Account{ID: id, Wallet: bal})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
