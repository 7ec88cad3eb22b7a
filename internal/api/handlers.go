package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"ftrader/internal/domain"
)

// StrategyPositions is one strategy's entry in the positions response.
type StrategyPositions struct {
	Strategy    string            `json:"strategy"`
	TotalAssets float64           `json:"total_assets"`
	Positions   []domain.Position `json:"positions"`
}

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// handlePositions returns the non-empty positions of every strategy.
func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	pm := s.engine.Positions()
	byStrategy := pm.Positions()

	out := make([]StrategyPositions, 0, len(byStrategy))
	for strategy, positions := range byStrategy {
		total, err := pm.TotalAssets(strategy)
		if err != nil {
			s.log.Error("total assets", "strategy", strategy, "error", err)
		}
		out = append(out, StrategyPositions{Strategy: strategy, TotalAssets: total, Positions: positions})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	writeJSON(w, http.StatusOK, out)
}

// handleOrders returns the live orders, optionally filtered by strategy.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.AllLiveOrders()
	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if o.StrategyID == strategy {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleOrderHistory returns persisted completed orders.
func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusNotFound, "order history is not configured")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	orders, err := s.orders.ListOrders(r.Context(), r.URL.Query().Get("strategy"), limit)
	if err != nil {
		s.log.Error("listing order history", "error", err)
		writeError(w, http.StatusInternalServerError, "listing orders failed")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleAccount returns the account snapshot.
func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Account())
}

// handleBook returns the simulated order-book depth for one instrument.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if s.books == nil {
		writeError(w, http.StatusNotFound, "order book is only available in backtest")
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["ticker_id"], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ticker_id")
		return
	}
	tick, ok := s.books.BookSnapshot(uint32(id))
	if !ok {
		writeError(w, http.StatusNotFound, "no book for ticker_id "+strconv.FormatUint(id, 10))
		return
	}
	writeJSON(w, http.StatusOK, tick)
}
