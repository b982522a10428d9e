package httpserver

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/taku247/omg-tool/internal/aggregator"
	"github.com/taku247/omg-tool/internal/execution"
	"github.com/taku247/omg-tool/internal/risk"
	"go.uber.org/zap"
)

// VenueQuote is one venue's latest top of book for the status API. Prices
// are decimal strings; float formatting is a rendering concern.
type VenueQuote struct {
	Venue      string    `json:"venue"`
	Bid        string    `json:"bid"`
	Ask        string    `json:"ask"`
	BidSize    string    `json:"bid_size"`
	AskSize    string    `json:"ask_size"`
	Volume24h  string    `json:"volume_24h"`
	Stale      bool      `json:"stale"`
	ObservedAt time.Time `json:"observed_at"`
}

// StateResponse is the HTTP response for one instrument's market state.
type StateResponse struct {
	Instrument string       `json:"instrument"`
	Venues     []VenueQuote `json:"venues"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StateHandler serves aggregated market state.
type StateHandler struct {
	agg    *aggregator.Manager
	logger *zap.Logger
}

// NewStateHandler creates a new market state handler.
func NewStateHandler(agg *aggregator.Manager, logger *zap.Logger) *StateHandler {
	return &StateHandler{agg: agg, logger: logger}
}

// HandleInstruments handles GET /api/instruments requests.
func (h *StateHandler) HandleInstruments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string][]string{
		"instruments": h.agg.Instruments(),
	})
}

// HandleState handles GET /api/state?instrument=<instrument> requests.
func (h *StateHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		writeError(w, h.logger, "missing required query parameter: instrument", http.StatusBadRequest)
		return
	}

	h.logger.Debug("state-request-received", zap.String("instrument", instrument))

	states := h.agg.CurrentState(instrument)
	if len(states) == 0 {
		writeError(w, h.logger, "no market data for instrument", http.StatusNotFound)
		return
	}

	venues := make([]VenueQuote, 0, len(states))
	for _, s := range states {
		if s.Quote == nil {
			continue
		}
		venues = append(venues, VenueQuote{
			Venue:      s.Venue,
			Bid:        s.Quote.Bid.String(),
			Ask:        s.Quote.Ask.String(),
			BidSize:    s.Quote.BidSize.String(),
			AskSize:    s.Quote.AskSize.String(),
			Volume24h:  s.Quote.Volume24h.String(),
			Stale:      h.agg.IsStale(s.Venue),
			ObservedAt: s.Quote.ObservedAt,
		})
	}

	writeJSON(w, h.logger, http.StatusOK, StateResponse{
		Instrument: instrument,
		Venues:     venues,
	})
}

// RiskHandler serves the risk gate's state snapshot.
type RiskHandler struct {
	gate   *risk.Gate
	logger *zap.Logger
}

// NewRiskHandler creates a new risk state handler.
func NewRiskHandler(gate *risk.Gate, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{gate: gate, logger: logger}
}

// HandleRisk handles GET /api/risk requests.
func (h *RiskHandler) HandleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.gate.Snapshot())
}

// PositionJSON is one open position for the status API.
type PositionJSON struct {
	PositionID string `json:"position_id"`
	Instrument string `json:"instrument"`
	Size       string `json:"size"`
	EntryPrice string `json:"entry_price"`
}

// PositionsHandler serves the coordinator's open positions.
type PositionsHandler struct {
	coord  *execution.Coordinator
	logger *zap.Logger
}

// NewPositionsHandler creates a new open positions handler.
func NewPositionsHandler(coord *execution.Coordinator, logger *zap.Logger) *PositionsHandler {
	return &PositionsHandler{coord: coord, logger: logger}
}

// HandlePositions handles GET /api/positions requests.
func (h *PositionsHandler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	active := h.coord.ActivePositions()
	positions := make([]PositionJSON, 0, len(active))
	for id, p := range active {
		positions = append(positions, PositionJSON{
			PositionID: id,
			Instrument: p.Instrument,
			Size:       p.Size.String(),
			EntryPrice: p.EntryPrice.String(),
		})
	}
	writeJSON(w, h.logger, http.StatusOK, map[string][]PositionJSON{
		"positions": positions,
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, message string, statusCode int) {
	writeJSON(w, logger, statusCode, ErrorResponse{Error: message})
}
