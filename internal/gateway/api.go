package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/voxmem/internal/dialogue"
	"github.com/MrWong99/voxmem/pkg/memory"
)

// ── Wire types ──────────────────────────────────────────────────────────────

type exchangeRequest struct {
	Text string `json:"text"`
}

type recordJSON struct {
	Ordinal  int     `json:"ordinal"`
	Role     string  `json:"role"`
	Content  string  `json:"content"`
	Distance float32 `json:"distance"`
}

type replyJSON struct {
	ExchangeID       string       `json:"exchange_id,omitempty"`
	Response         string       `json:"response"`
	Shortcut         bool         `json:"shortcut"`
	Retrieved        []recordJSON `json:"retrieved"`
	UserOrdinal      *int         `json:"user_ordinal,omitempty"`
	AssistantOrdinal *int         `json:"assistant_ordinal,omitempty"`
	DurationMS       int64        `json:"duration_ms"`
}

type statsJSON struct {
	Records     int  `json:"records"`
	Dimension   int  `json:"dimension"`
	Dirty       bool `json:"dirty"`
	NeedsReload bool `json:"needs_reload"`
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func toRecords(recs []memory.Record) []recordJSON {
	out := make([]recordJSON, len(recs))
	for i, r := range recs {
		out[i] = recordJSON{Ordinal: r.Ordinal, Role: string(r.Role), Content: r.Content, Distance: r.Distance}
	}
	return out
}

func toReply(r *dialogue.Reply) replyJSON {
	out := replyJSON{Response: r.Text, Shortcut: r.Shortcut, Retrieved: []recordJSON{}}
	if res := r.Result; res != nil {
		out.ExchangeID = res.ExchangeID
		out.Retrieved = toRecords(res.Retrieved)
		out.UserOrdinal = &res.UserOrdinal
		out.AssistantOrdinal = &res.AssistantOrdinal
		out.DurationMS = res.Duration.Milliseconds()
	}
	return out
}

// ── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text must not be empty")
		return
	}

	reply, err := s.responder.Respond(r.Context(), req.Text)
	if err != nil {
		status, kind := classify(err)
		s.logger.Warn("exchange failed", "err", err, "kind", kind)
		writeError(w, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toReply(reply))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query parameter q is required")
		return
	}
	k := s.topK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxSearchK {
			writeError(w, http.StatusBadRequest, "bad_request", "k must be an integer between 1 and "+strconv.Itoa(MaxSearchK))
			return
		}
		k = n
	}

	recs, err := s.store.Search(r.Context(), q, k)
	if err != nil {
		status, kind := classify(err)
		writeError(w, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toRecords(recs))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		status, kind := classify(err)
		writeError(w, status, kind, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statsJSON{
		Records:     st.Records,
		Dimension:   st.Dimension,
		Dirty:       st.Dirty,
		NeedsReload: st.NeedsReload,
	})
}

// classify maps an error to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, memory.ErrDimensionMismatch):
		return http.StatusInternalServerError, "dimension_mismatch"
	case errors.Is(err, memory.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding_unavailable"
	case errors.Is(err, dialogue.ErrGenerationUnavailable):
		return http.StatusServiceUnavailable, "generation_unavailable"
	case errors.Is(err, memory.ErrNeedsReload):
		return http.StatusServiceUnavailable, "needs_reload"
	case errors.Is(err, memory.ErrPersistenceFailed):
		return http.StatusInternalServerError, "persistence_failed"
	case errors.Is(err, memory.ErrCorruptPersistentState):
		return http.StatusInternalServerError, "corrupt_persistent_state"
	case errors.Is(err, memory.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorJSON{Error: msg, Kind: kind})
}
