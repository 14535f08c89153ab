// Package api exposes the derived read surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"lendmirror/internal/analytics"
	"lendmirror/internal/domain"
	"lendmirror/internal/scanner"
	"lendmirror/internal/storage"
)

// CandidateScanner is the slice of scanner capability the API needs.
type CandidateScanner interface {
	Scan(ctx context.Context, market, requestingUser string) ([]scanner.Candidate, error)
}

// Server serves position snapshots, liquidation candidates, and gas
// comparisons. Read-only: every durable write goes through the indexer.
type Server struct {
	store   storage.Store
	scanner CandidateScanner
	gas     *analytics.GasAnalyzer
	logger  *log.Logger
}

// NewServer creates a Server.
func NewServer(store storage.Store, sc CandidateScanner, gas *analytics.GasAnalyzer, logger *log.Logger) *Server {
	return &Server{store: store, scanner: sc, gas: gas, logger: logger}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/positions/{user}/{market}", s.handleGetPosition).Methods(http.MethodGet)
	r.HandleFunc("/v1/markets/{market}/candidates", s.handleGetCandidates).Methods(http.MethodGet)
	r.HandleFunc("/v1/gas-comparison", s.handleGasComparison).Methods(http.MethodGet)
	return r
}

// positionView is the JSON shape of one position snapshot. Wad amounts are
// converted to display floats here and nowhere earlier.
type positionView struct {
	User            string  `json:"user"`
	Market          string  `json:"market"`
	DepositAmount   float64 `json:"depositAmount"`
	BorrowAmount    float64 `json:"borrowAmount"`
	CollateralValue float64 `json:"collateralValue"`
	HealthFactor    float64 `json:"healthFactor"`
	LiquidationRisk float64 `json:"liquidationRisk"`
	InterestRateBps uint32  `json:"interestRateBps"`
	Status          string  `json:"status"`
	PriceSource     string  `json:"priceSource"`
	HealthSource    string  `json:"healthSource"`
	LastUpdate      int64   `json:"lastUpdate"`
}

type candidateView struct {
	User          string  `json:"user"`
	DepositAmount float64 `json:"depositAmount"`
	BorrowAmount  float64 `json:"borrowAmount"`
	HealthFactor  float64 `json:"healthFactor"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UnixMilli()})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := vars["user"]
	market := vars["market"]

	pos, err := s.store.GetPosition(r.Context(), user, market)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "position not found"})
			return
		}
		s.logger.Printf("get position %s/%s: %v", user, market, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, positionView{
		User:            pos.User,
		Market:          pos.Market,
		DepositAmount:   domain.WadToFloat(pos.DepositAmount),
		BorrowAmount:    domain.WadToFloat(pos.BorrowAmount),
		CollateralValue: domain.WadToFloat(pos.CollateralValue),
		HealthFactor:    pos.HealthFactor,
		LiquidationRisk: pos.LiquidationRisk,
		InterestRateBps: pos.InterestRateBps,
		Status:          string(pos.Status),
		PriceSource:     string(pos.PriceSource),
		HealthSource:    string(pos.HealthSource),
		LastUpdate:      pos.LastUpdate,
	})
}

func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	market := mux.Vars(r)["market"]
	requester := r.URL.Query().Get("requester")

	candidates, err := s.scanner.Scan(r.Context(), market, requester)
	if err != nil {
		s.logger.Printf("scan %s: %v", market, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "scan failed"})
		return
	}

	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, candidateView{
			User:          c.User,
			DepositAmount: domain.WadToFloat(c.DepositAmount),
			BorrowAmount:  domain.WadToFloat(c.BorrowAmount),
			HealthFactor:  c.HealthFactor,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGasComparison(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := domain.EventType(q.Get("eventType"))
	networkA := q.Get("networkA")
	networkB := q.Get("networkB")
	if eventType == "" || networkA == "" || networkB == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "eventType, networkA and networkB are required"})
		return
	}

	cmp, err := s.gas.Compare(r.Context(), eventType, networkA, networkB)
	if err != nil {
		s.logger.Printf("gas comparison %s %s/%s: %v", eventType, networkA, networkB, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
