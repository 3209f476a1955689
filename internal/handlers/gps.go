package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/transit-tracker/internal/models"
	"github.com/ukydev/transit-tracker/internal/tracking"
)

const maxPingBytes = 64 << 10

// Ingester handles one decoded ping.
type Ingester interface {
	Ingest(ctx context.Context, ping models.Ping) (tracking.Outcome, error)
}

// GPSHandler accepts vehicle position pings.
type GPSHandler struct {
	ingester Ingester
}

func NewGPSHandler(ingester Ingester) *GPSHandler {
	return &GPSHandler{ingester: ingester}
}

type gpsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServeHTTP handles POST /gps.
func (h *GPSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ping models.Ping
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPingBytes))
	if err := dec.Decode(&ping); err != nil {
		writeJSON(w, http.StatusBadRequest, gpsResponse{Error: "invalid_payload", Message: "Invalid JSON: " + err.Error()})
		return
	}

	out, err := h.ingester.Ingest(r.Context(), ping)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPing) {
			writeJSON(w, http.StatusBadRequest, gpsResponse{
				Error:   "invalid_payload",
				Message: strings.TrimPrefix(err.Error(), models.ErrInvalidPing.Error()+": "),
			})
			return
		}
		log.WithFields(log.Fields{"bus_id": ping.BusID}).WithError(err).Error("Failed to process GPS data")
		writeJSON(w, http.StatusInternalServerError, gpsResponse{Error: "Failed to process GPS data", Message: err.Error()})
		return
	}

	log.WithFields(log.Fields{
		"bus_id":      ping.BusID,
		"result":      out.Result.String(),
		"progress_id": out.ProgressID,
	}).Debug("Ping processed")
	writeJSON(w, http.StatusOK, gpsResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
