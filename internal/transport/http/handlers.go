// Package httptransport is the thin HTTP layer over the pipeline. Handlers
// decode, validate, and delegate; workflow logic stays in the orchestrator.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"voicepassport/internal/pipeline"
	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
	"voicepassport/pkg/platform/httputil"
)

// Runner triggers pipeline runs. Satisfied by *pipeline.Orchestrator.
type Runner interface {
	Register(ctx context.Context, req pipeline.RegistrationRequest) pipeline.RunReport
	Authenticate(ctx context.Context, req pipeline.AuthenticationRequest) pipeline.RunReport
	ChangeState(ctx context.Context, req pipeline.StateChangeRequest) pipeline.RunReport
}

// Handler wires run endpoints to the orchestrator.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

// NewHandler constructs the HTTP handler.
func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register mounts the run endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/runs/registration", h.HandleRegistration)
	r.Post("/v1/runs/authentication", h.HandleAuthentication)
	r.Post("/v1/runs/state-change", h.HandleStateChange)
}

type registrationRequest struct {
	UserID     string `json:"user_id"`
	SampleID   string `json:"sample_id"`
	WebhookURL string `json:"webhook_url"`
}

type authenticationRequest struct {
	SampleID   string `json:"sample_id"`
	WebhookURL string `json:"webhook_url"`
}

type stateChangeRequest struct {
	UserID     string `json:"user_id"`
	Enabled    *bool  `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type runResponse struct {
	RunID   string                   `json:"run_id"`
	Outcome string                   `json:"outcome"`
	Result  *pipeline.WorkflowResult `json:"result,omitempty"`
}

// HandleRegistration handles POST /v1/runs/registration.
func (h *Handler) HandleRegistration(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[registrationRequest](w, r)
	if !ok {
		return
	}
	report := h.runner.Register(r.Context(), pipeline.RegistrationRequest{
		UserID:     domain.UserID(req.UserID),
		SampleID:   domain.SampleID(req.SampleID),
		WebhookURL: req.WebhookURL,
	})
	h.writeReport(w, r, report)
}

// HandleAuthentication handles POST /v1/runs/authentication.
func (h *Handler) HandleAuthentication(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[authenticationRequest](w, r)
	if !ok {
		return
	}
	report := h.runner.Authenticate(r.Context(), pipeline.AuthenticationRequest{
		SampleID:   domain.SampleID(req.SampleID),
		WebhookURL: req.WebhookURL,
	})
	h.writeReport(w, r, report)
}

// HandleStateChange handles POST /v1/runs/state-change. The enabled flag is
// decoded as a pointer so an absent or non-boolean value is rejected rather
// than defaulting to false.
func (h *Handler) HandleStateChange(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[stateChangeRequest](w, r)
	if !ok {
		return
	}
	report := h.runner.ChangeState(r.Context(), pipeline.StateChangeRequest{
		UserID:     domain.UserID(req.UserID),
		Enabled:    req.Enabled,
		WebhookURL: req.WebhookURL,
	})
	h.writeReport(w, r, report)
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, report pipeline.RunReport) {
	if report.Outcome == pipeline.OutcomeError {
		h.logger.ErrorContext(r.Context(), "pipeline run failed",
			"run_id", report.RunID.String(),
			"workflow", string(report.Workflow),
			"error", report.Err,
		)
		httputil.WriteError(w, report.Err)
		return
	}
	status := http.StatusOK
	if report.Workflow == pipeline.WorkflowRegistration {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, runResponse{
		RunID:   report.RunID.String(),
		Outcome: string(report.Outcome),
		Result:  report.Result,
	})
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body"))
		return req, false
	}
	return req, true
}
