package query

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

const maxSubmissionBytes = 64 << 10

// Submitter accepts signed operations. *host.Network satisfies it.
type Submitter interface {
	Submit(ctx context.Context, signed *liquidstake.SignedOperation) error
}

// Handler serves the reporting surface as JSON, and optionally accepts
// signed operations at POST /operations.
type Handler struct {
	reporter *Reporter
	submit   Submitter
	mux      *http.ServeMux
}

// NewHandler builds the HTTP routes. submit may be nil for a read-only API.
func NewHandler(reporter *Reporter, submit Submitter) *Handler {
	h := &Handler{reporter: reporter, submit: submit, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /status", h.handleStatus)
	h.mux.HandleFunc("GET /tokens", h.handleApprovedTokens)
	h.mux.HandleFunc("GET /chains/{chain}/tokens/{token}", h.handleToken)
	h.mux.HandleFunc("GET /chains/{chain}/stakes/{owner}", h.handleStake)
	h.mux.HandleFunc("GET /reserves/{token}", h.handleReserve)
	h.mux.HandleFunc("GET /settlements/{id}", h.handleSettlement)
	h.mux.HandleFunc("GET /settlements", h.handleSettlements)
	if submit != nil {
		h.mux.HandleFunc("POST /operations", h.handleSubmit)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reporter.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleApprovedTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.reporter.ApprovedTokens(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	status, err := h.reporter.Token(r.Context(),
		liquidstake.ChainID(r.PathValue("chain")),
		liquidstake.TokenID(r.PathValue("token")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleStake(w http.ResponseWriter, r *http.Request) {
	stake, err := h.reporter.Stake(r.Context(),
		liquidstake.ChainID(r.PathValue("chain")),
		liquidstake.Owner(r.PathValue("owner")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stake)
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	reserve, err := h.reporter.Reserve(r.Context(), liquidstake.TokenID(r.PathValue("token")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserve)
}

func (h *Handler) handleSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.reporter.Settlement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleSettlements(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.reporter.Settlements(r.Context(), filters)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*liquidstake.Settlement{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": list})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var signed liquidstake.SignedOperation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err := dec.Decode(&signed); err != nil {
		writeError(w, errors.NewClientError(errors.CODEC_ERROR, "invalid submission body", err))
		return
	}
	if err := h.submit.Submit(r.Context(), &signed); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func parseFilters(r *http.Request) (liquidstake.SettlementFilters, error) {
	q := r.URL.Query()
	filters := liquidstake.SettlementFilters{
		Owner:       liquidstake.Owner(q.Get("owner")),
		Origin:      liquidstake.ChainID(q.Get("origin")),
		Destination: liquidstake.ChainID(q.Get("destination")),
	}
	if v := q.Get("status"); v != "" {
		status := liquidstake.SettlementStatus(v)
		filters.Status = &status
	}
	if v := q.Get("kind"); v != "" {
		kind := liquidstake.MessageKind(v)
		filters.Kind = &kind
	}
	for name, dst := range map[string]*int{"limit": &filters.Limit, "offset": &filters.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filters, errors.NewClientError(errors.CODEC_ERROR, "invalid "+name, err)
		}
		*dst = n
	}
	return filters, nil
}

// StatusCode maps an error code to an HTTP status.
func StatusCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.NOT_FOUND:
		return http.StatusNotFound
	case errors.INVALID_AMOUNT, errors.INVALID_OWNER, errors.CODEC_ERROR, errors.UNKNOWN_KIND, errors.CONFIG_INVALID:
		return http.StatusBadRequest
	case errors.UNAUTHORIZED:
		return http.StatusUnauthorized
	case errors.RATE_LIMITED:
		return http.StatusTooManyRequests
	case errors.UNAPPROVED_TOKEN, errors.NO_STAKE, errors.INSUFFICIENT_BALANCE, errors.OVERFLOW,
		errors.RESERVE_EXHAUSTED, errors.PROTOCOL_VIOLATION, errors.EXTERNAL_CALL_FAILED:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: errors.CodeOf(err)}
	var lerr *errors.LSTError
	if errors.As(err, &lerr) {
		resp.Error = lerr.Message
	}
	writeJSON(w, StatusCode(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger().Warn("failed to write response", zap.Int("status", status), zap.Error(err))
	}
}
