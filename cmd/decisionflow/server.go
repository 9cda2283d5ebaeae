package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/decisionflow/internal/ctxkeys"
	"github.com/BaSui01/decisionflow/service"
	"github.com/BaSui01/decisionflow/store"
	"github.com/BaSui01/decisionflow/types"
)

// buildMux exposes the workflow service over a small JSON API plus the ops
// endpoints. The caller identity comes from the X-User-ID header; upstream
// authentication is a deployment concern.
func buildMux(svc *service.Service, logger *zap.Logger) http.Handler {
	h := &apiHandler{svc: svc, logger: logger.With(zap.String("component", "http_api"))}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})

	mux.HandleFunc("POST /v1/workflows", h.saveDraft)
	mux.HandleFunc("POST /v1/workflows/{id}/publish", h.publish)
	mux.HandleFunc("POST /v1/workflows/{id}/trigger", h.trigger)
	mux.HandleFunc("POST /v1/workflows/{id}/experiments", h.createExperiment)
	mux.HandleFunc("POST /v1/executions/{id}/cancel", h.cancel)
	mux.HandleFunc("GET /v1/executions/{id}", h.getExecution)
	mux.HandleFunc("GET /v1/executions/{id}/timeline", h.getTimeline)
	mux.HandleFunc("GET /v1/executions/{id}/debate-traces", h.getDebateTraces)
	return withIdentity(mux)
}

// withIdentity stamps each request with a correlation id and the caller
// identity so handlers and logs share one view of who asked.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := ctxkeys.WithRequestID(r.Context(), requestID)
		if user := r.Header.Get("X-User-ID"); user != "" {
			ctx = ctxkeys.WithUserID(ctx, user)
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type apiHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

func (h *apiHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DefinitionID string `json:"definitionId"`
		Name         string `json:"name"`
		Visibility   string `json:"visibility"`
		DSL          string `json:"dsl"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.SaveDraft(r.Context(), service.SaveDraftRequest{
		UserID:       userID(r),
		DefinitionID: body.DefinitionID,
		Name:         body.Name,
		Visibility:   types.Visibility(body.Visibility),
		DSL:          []byte(body.DSL),
	})
	h.respond(w, result, err)
}

func (h *apiHandler) publish(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID string `json:"versionId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.Publish(r.Context(), service.PublishRequest{
		UserID:       userID(r),
		DefinitionID: r.PathValue("id"),
		VersionID:    body.VersionID,
	})
	if errors.Is(err, service.ErrValidationFailed) {
		writeJSON(w, http.StatusUnprocessableEntity, result)
		return
	}
	h.respond(w, result, err)
}

func (h *apiHandler) trigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionID      string         `json:"versionId"`
		IdempotencyKey string         `json:"idempotencyKey"`
		Params         map[string]any `json:"params"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	result, err := h.svc.Trigger(r.Context(), service.TriggerRequest{
		UserID:         userID(r),
		DefinitionID:   r.PathValue("id"),
		VersionID:      body.VersionID,
		TriggerType:    types.TriggerAPI,
		IdempotencyKey: body.IdempotencyKey,
		Params:         body.Params,
	})
	h.respond(w, result, err)
}

func (h *apiHandler) createExperiment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VersionAID string  `json:"versionAId"`
		VersionBID string  `json:"versionBId"`
		WeightA    float64 `json:"weightA"`
		WeightB    float64 `json:"weightB"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	exp, err := h.svc.CreateExperiment(r.Context(), service.CreateExperimentRequest{
		UserID:       userID(r),
		DefinitionID: r.PathValue("id"),
		VersionAID:   body.VersionAID,
		VersionBID:   body.VersionBID,
		WeightA:      body.WeightA,
		WeightB:      body.WeightB,
	})
	h.respond(w, exp, err)
}

func (h *apiHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	err := h.svc.Cancel(r.Context(), userID(r), r.PathValue("id"), body.Reason)
	if errors.Is(err, service.ErrAlreadyTerminal) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.respond(w, map[string]bool{"canceled": true}, err)
}

func (h *apiHandler) getExecution(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetExecution(r.Context(), userID(r), r.PathValue("id"))
	h.respond(w, detail, err)
}

func (h *apiHandler) getTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.GetTimeline(r.Context(), userID(r), r.PathValue("id"))
	h.respond(w, events, err)
}

func (h *apiHandler) getDebateTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.svc.GetDebateTraces(r.Context(), userID(r), r.PathValue("id"), store.DebateTraceFilter{
		ParticipantCode: r.URL.Query().Get("participant"),
		JudgementsOnly:  r.URL.Query().Get("judgements") == "true",
	})
	h.respond(w, traces, err)
}

func (h *apiHandler) respond(w http.ResponseWriter, payload any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, payload)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Warn("request failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func userID(r *http.Request) string {
	if id, ok := ctxkeys.UserID(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-User-ID")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
