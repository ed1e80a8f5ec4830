package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/port/inbound"
	"github.com/Sentinel-Gate/infragate/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// API serves the gateway's REST surface. Every route expects an identity
// in context, put there by AuthMiddleware.
type API struct {
	mediator inbound.Mediator
	queries  inbound.QueryRunner
	audit    inbound.AuditReader
	catalog  *proposal.Catalog
	stats    *service.StatsService
}

// NewAPI creates the REST handlers. catalog and stats may be nil.
func NewAPI(mediator inbound.Mediator, queries inbound.QueryRunner, audit inbound.AuditReader, catalog *proposal.Catalog, stats *service.StatsService) *API {
	return &API{
		mediator: mediator,
		queries:  queries,
		audit:    audit,
		catalog:  catalog,
		stats:    stats,
	}
}

// Routes returns the API mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/proposals", a.handleSubmit)
	mux.HandleFunc("POST /v1/confirmations", a.handleConfirm)
	mux.HandleFunc("POST /v1/queries", a.handleQuery)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", a.handleMessage)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleEndSession)
	mux.HandleFunc("GET /v1/audit", a.handleAudit)
	mux.HandleFunc("GET /v1/actions", a.handleActions)
	mux.HandleFunc("GET /v1/stats", a.handleStats)
	return mux
}

// ConfirmationResponse reports whether a signal confirmed a pending proposal.
type ConfirmationResponse struct {
	Confirmed bool `json:"confirmed"`
}

// QueryRequest is the body of POST /v1/queries.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Statement string `json:"statement"`
}

// MessageRequest is the body of POST /v1/sessions/{id}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// RejectionResponse is returned with 422 for statements that are not pure reads.
type RejectionResponse struct {
	Error   string `json:"error"`
	Rule    string `json:"rule"`
	Keyword string `json:"keyword,omitempty"`
	Index   int    `json:"statement_index"`
}

// ActionResponse describes one catalog entry.
type ActionResponse struct {
	Name        string          `json:"name"`
	Mutating    bool            `json:"mutating"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req inbound.ProposalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())

	res, err := a.mediator.Submit(r.Context(), caller, req)
	if err != nil {
		switch {
		case errors.Is(err, mediation.ErrAuditWriteFailed):
			// Nothing ran; the caller may retry once the store recovers.
			respondJSON(w, http.StatusServiceUnavailable, res)
		case errors.Is(err, mediation.ErrAuditInconsistent):
			// The action ran but left no record. Report the result anyway.
			respondJSON(w, http.StatusInternalServerError, res)
		default:
			a.respondServiceError(w, r, err)
		}
		return
	}

	status := http.StatusOK
	if res.Status == mediation.StatusPending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var sig mediation.ConfirmationSignal
	if !decodeBody(w, r, &sig) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())

	ok, err := a.mediator.Confirm(r.Context(), caller, sig)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ConfirmationResponse{Confirmed: ok})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())

	res, err := a.queries.Run(r.Context(), caller, req.SessionID, req.Statement)
	if err != nil {
		var rej *service.RejectionError
		if errors.As(err, &rej) {
			respondJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
				Error:   rej.Classification.Reason(),
				Rule:    string(rej.Classification.Rule),
				Keyword: rej.Classification.Keyword,
				Index:   rej.Classification.Index,
			})
			return
		}
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller, _ := IdentityFromContext(r.Context())

	if err := a.mediator.RecordMessage(r.Context(), caller, r.PathValue("id"), req.Text); err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFromContext(r.Context())
	if err := a.mediator.EndSession(r.Context(), caller, r.PathValue("id")); err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, _ := IdentityFromContext(r.Context())

	records, err := a.audit.List(r.Context(), caller, filter)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (a *API) handleActions(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		respondJSON(w, http.StatusOK, []ActionResponse{})
		return
	}
	names := a.catalog.Names()
	out := make([]ActionResponse, 0, len(names))
	for _, name := range names {
		spec, _ := a.catalog.Lookup(name)
		entry := ActionResponse{Name: spec.Name, Mutating: spec.Mutating, Description: spec.Description}
		if spec.Schema != "" {
			entry.Schema = json.RawMessage(spec.Schema)
		}
		out = append(out, entry)
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		respondError(w, http.StatusNotFound, "stats not enabled")
		return
	}
	respondJSON(w, http.StatusOK, a.stats.GetStats())
}

// respondServiceError maps service errors to status codes.
func (a *API) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, audit.ErrInvalidRange):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQueryFailed):
		LoggerFromContext(r.Context()).Warn("query failed", "error", err)
		respondError(w, http.StatusBadGateway, "query failed")
	default:
		LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseAuditFilter reads start, end, session, outcome, action, limit and
// offset query parameters. Times are RFC 3339.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var f audit.Filter
	var err error

	if v := q.Get("start"); v != "" {
		if f.Start, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("invalid start: %w", err)
		}
	}
	if v := q.Get("end"); v != "" {
		if f.End, err = time.Parse(time.RFC3339, v); err != nil {
			return f, fmt.Errorf("invalid end: %w", err)
		}
	}
	if v := q.Get("outcome"); v != "" {
		f.Outcome = audit.Outcome(v)
		if !f.Outcome.Valid() {
			return f, fmt.Errorf("invalid outcome %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
	}
	f.SessionID = q.Get("session")
	f.Action = q.Get("action")
	return f, nil
}

// decodeBody decodes a JSON request body, responding 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
