package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"speech-relay-service/internal/models"
	"speech-relay-service/internal/schema"
	"speech-relay-service/internal/service/ingest"
)

const (
	msgNoData       = "No data provided"
	msgInvalidJSON  = "Invalid JSON body"
	msgTextRequired = "Text field is required"
	msgTooLarge     = "Request body too large"
	msgInternal     = "Internal server error"
)

type handlers struct {
	ingest *ingest.Service
	logger zerolog.Logger
}

// receive handles POST /api/stt.
func (h *handlers) receive(w http.ResponseWriter, r *http.Request) {
	req, err := h.ingest.Validator().Decode(r.Body)
	if err != nil {
		h.ingest.Reject(err)
		status := http.StatusBadRequest
		if errors.Is(err, schema.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, clientMessage(err))
		return
	}

	msg, err := h.ingest.Ingest(r.Context(), req)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, clientMessage(err))
			return
		}
		h.logger.Error().Err(err).Msg("Error processing STT request")
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, models.IngestResponse{
		Status:    models.StatusSuccess,
		MessageID: msg.ID,
	})
}

// list handles GET /api/messages.
func (h *handlers) list(w http.ResponseWriter, _ *http.Request) {
	msgs := h.ingest.List()
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, models.ListResponse{
		Status:   models.StatusSuccess,
		Count:    len(msgs),
		Messages: msgs,
	})
}

func (h *handlers) index(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, schema.ErrMissingText):
		return msgTextRequired
	case errors.Is(err, schema.ErrMalformedBody):
		return msgInvalidJSON
	case errors.Is(err, schema.ErrBodyTooLarge):
		return msgTooLarge
	default:
		return msgNoData
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
