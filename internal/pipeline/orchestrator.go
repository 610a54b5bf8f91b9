// Package pipeline sequences the biometric identity workflows. Each run is
// a linear state machine over external collaborators: feature encoder,
// vector index, ledger, webhook target. The orchestrator owns the
// retry-or-terminate policy; the collaborators only report typed errors.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"voicepassport/internal/audit"
	"voicepassport/internal/commitment"
	"voicepassport/internal/platform/config"
	"voicepassport/internal/platform/metrics"
	"voicepassport/internal/userstore"
	"voicepassport/pkg/domain"
	dErrors "voicepassport/pkg/domain-errors"
	"voicepassport/pkg/platform/sentinel"
)

// Stage names, as they appear in the audit trail.
const (
	StageValidateInputs   = "validate_inputs"
	StageEmbedSample      = "embed_sample"
	StageEnrollEmbedding  = "enroll_embedding"
	StageFindMostSimilar  = "find_most_similar"
	StageCommitIdentities = "commit_identities"
	StageLedgerRegister   = "ledger_register"
	StageLedgerVerify     = "ledger_verify"
	StageLedgerSetEnabled = "ledger_set_enabled"
	StageIssueCredential  = "issue_credential"
	StageBuildResult      = "build_result"
	StageDeliverResult    = "deliver_result"
)

// Deps are the collaborators a run sequences. All are required except
// Credentials, which only the Authentication workflow uses.
type Deps struct {
	Matcher     Matcher
	Ledger      Ledger
	Deliverer   Deliverer
	Audit       audit.Sink
	Users       userstore.Store
	Samples     SampleSource
	Credentials CredentialIssuer
}

// Orchestrator executes pipeline runs. Runs are independent; the only
// cross-run shared state lives behind the Ledger port (nonce sequence).
type Orchestrator struct {
	deps     Deps
	retry    config.Retry
	minScore float32
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records run and stage counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithMinScore sets the similarity floor for Authentication. Matches
// below it are rejected before the ledger is consulted.
func WithMinScore(score float32) Option {
	return func(o *Orchestrator) { o.minScore = score }
}

// New validates the collaborator set and builds an orchestrator.
func New(deps Deps, retry config.Retry, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Matcher == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "matcher is required")
	case deps.Ledger == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ledger is required")
	case deps.Deliverer == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deliverer is required")
	case deps.Audit == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "audit sink is required")
	case deps.Users == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user store is required")
	case deps.Samples == nil:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sample source is required")
	}
	o := &Orchestrator{
		deps:   deps,
		retry:  retry,
		logger: slog.Default(),
		tracer: otel.Tracer("voicepassport/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RegistrationRequest triggers a Registration run.
type RegistrationRequest struct {
	UserID     domain.UserID
	SampleID   domain.SampleID
	WebhookURL string
}

// AuthenticationRequest triggers an Authentication run. SampleID names the
// query sample; the matched identity is resolved from the directory, never
// asserted by the caller.
type AuthenticationRequest struct {
	SampleID   domain.SampleID
	WebhookURL string
}

// StateChangeRequest triggers a StateChange run. Enabled is a pointer so
// a missing flag is distinguishable from false and rejected up front.
type StateChangeRequest struct {
	UserID     domain.UserID
	Enabled    *bool
	WebhookURL string
}

// Register runs the Registration workflow: embed the enrollment sample,
// index it, commit both identifiers, and record the registration on the
// ledger. No partial registration: any stage failure is terminal.
func (o *Orchestrator) Register(ctx context.Context, req RegistrationRequest) RunReport {
	runID := domain.NewRunID()
	ctx, span := o.startRun(ctx, WorkflowRegistration, runID)
	defer span.End()

	if req.UserID == "" || req.SampleID == "" {
		err := dErrors.New(dErrors.CodeInvalidInput, "user id and sample id are required")
		o.appendAudit(ctx, runID, StageValidateInputs, err)
		return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, nil, err)
	}

	var emb []float32
	err := o.runStage(ctx, runID, StageEmbedSample, func(ctx context.Context) error {
		sample, err := o.deps.Samples.Fetch(ctx, req.SampleID)
		if err != nil {
			return err
		}
		emb, err = o.deps.Matcher.Embed(ctx, sample)
		return err
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, nil, err)
	}

	err = o.runStage(ctx, runID, StageEnrollEmbedding, func(ctx context.Context) error {
		if err := o.deps.Matcher.Enroll(ctx, string(req.SampleID), emb); err != nil {
			return err
		}
		return o.deps.Users.Put(ctx, userstore.User{
			ID:       req.UserID,
			SampleID: req.SampleID,
			Enabled:  true,
		})
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, nil, err)
	}

	userC, sampleC, err := o.commitPair(ctx, runID, string(req.UserID), string(req.SampleID))
	if err != nil {
		return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, nil, err)
	}

	err = o.runStage(ctx, runID, StageLedgerRegister, func(ctx context.Context) error {
		_, err := o.deps.Ledger.Register(ctx, userC, sampleC)
		return err
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, nil, err)
	}

	result := o.buildResult(ctx, runID, string(req.UserID), ResultBody{
		Type:   ResultTypeRegistration,
		Result: boolPtr(true),
	})
	return o.finish(ctx, runID, WorkflowRegistration, req.WebhookURL, result, nil)
}

// Authenticate runs the Authentication workflow. "No similar voice" and
// "ledger says no" both terminate as AuthFailure; they are told apart in
// the audit trail by the stage that rejected the run.
func (o *Orchestrator) Authenticate(ctx context.Context, req AuthenticationRequest) RunReport {
	runID := domain.NewRunID()
	ctx, span := o.startRun(ctx, WorkflowAuthentication, runID)
	defer span.End()

	if req.SampleID == "" {
		err := dErrors.New(dErrors.CodeInvalidInput, "sample id is required")
		o.appendAudit(ctx, runID, StageValidateInputs, err)
		return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
	}

	var emb []float32
	err := o.runStage(ctx, runID, StageEmbedSample, func(ctx context.Context) error {
		sample, err := o.deps.Samples.Fetch(ctx, req.SampleID)
		if err != nil {
			return err
		}
		emb, err = o.deps.Matcher.Embed(ctx, sample)
		return err
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
	}

	var matchedSample string
	var matchedUser domain.UserID
	err = o.runStage(ctx, runID, StageFindMostSimilar, func(ctx context.Context) error {
		match, err := o.deps.Matcher.FindMostSimilar(ctx, emb)
		if err != nil {
			return err
		}
		if o.minScore > 0 && match.Score < o.minScore {
			return dErrors.New(dErrors.CodeUnauthorized,
				fmt.Sprintf("best match %s scored %.3f, below floor %.3f", match.SampleID, match.Score, o.minScore))
		}
		user, err := o.deps.Users.FindBySample(ctx, domain.SampleID(match.SampleID))
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized,
				"matched sample "+match.SampleID+" has no enrolled user")
		}
		if err != nil {
			return err
		}
		matchedSample = match.SampleID
		matchedUser = user.ID
		return nil
	})
	if err != nil {
		if denied(err) {
			return o.finishDenied(ctx, runID, string(matchedUser), req.WebhookURL, err)
		}
		return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
	}

	userC, sampleC, err := o.commitPair(ctx, runID, string(matchedUser), matchedSample)
	if err != nil {
		return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
	}

	err = o.runStage(ctx, runID, StageLedgerVerify, func(ctx context.Context) error {
		verified, err := o.deps.Ledger.Verify(ctx, userC, sampleC)
		if err != nil {
			return err
		}
		if !verified {
			return dErrors.New(dErrors.CodeUnauthorized, "ledger verification returned false")
		}
		return nil
	})
	if err != nil {
		if denied(err) {
			return o.finishDenied(ctx, runID, string(matchedUser), req.WebhookURL, err)
		}
		return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
	}

	var token string
	if o.deps.Credentials != nil {
		err = o.runStage(ctx, runID, StageIssueCredential, func(context.Context) error {
			issued, err := o.deps.Credentials.Issue(matchedUser)
			if err != nil {
				return err
			}
			token = issued
			return nil
		})
		if err != nil {
			return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, nil, err)
		}
	}

	result := o.buildResult(ctx, runID, string(matchedUser), ResultBody{
		Type:        ResultTypeAuthentication,
		IsSuccess:   boolPtr(true),
		AccessToken: token,
	})
	return o.finish(ctx, runID, WorkflowAuthentication, req.WebhookURL, result, nil)
}

// ChangeState runs the StateChange workflow: enable or disable a user's
// on-chain verification record.
func (o *Orchestrator) ChangeState(ctx context.Context, req StateChangeRequest) RunReport {
	runID := domain.NewRunID()
	ctx, span := o.startRun(ctx, WorkflowStateChange, runID)
	defer span.End()

	err := o.runStage(ctx, runID, StageValidateInputs, func(context.Context) error {
		if req.UserID == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "user id is required")
		}
		if req.Enabled == nil {
			return dErrors.New(dErrors.CodeInvalidInput, "enabled flag is required and must be a boolean")
		}
		return nil
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowStateChange, req.WebhookURL, nil, err)
	}

	var userC commitment.Commitment
	err = o.runStage(ctx, runID, StageCommitIdentities, func(context.Context) error {
		var err error
		userC, err = commitment.Commit(string(req.UserID))
		return err
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowStateChange, req.WebhookURL, nil, err)
	}

	err = o.runStage(ctx, runID, StageLedgerSetEnabled, func(ctx context.Context) error {
		if _, err := o.deps.Ledger.SetEnabled(ctx, userC, *req.Enabled); err != nil {
			return err
		}
		return o.deps.Users.SetEnabled(ctx, req.UserID, *req.Enabled)
	})
	if err != nil {
		return o.finish(ctx, runID, WorkflowStateChange, req.WebhookURL, nil, err)
	}

	result := o.buildResult(ctx, runID, string(req.UserID), ResultBody{
		Type:   ResultTypeStateChange,
		Result: boolPtr(true),
	})
	return o.finish(ctx, runID, WorkflowStateChange, req.WebhookURL, result, nil)
}

// commitPair derives both identity commitments in one audited stage.
func (o *Orchestrator) commitPair(ctx context.Context, runID domain.RunID, user, sample string) (commitment.Commitment, commitment.Commitment, error) {
	var userC, sampleC commitment.Commitment
	err := o.runStage(ctx, runID, StageCommitIdentities, func(context.Context) error {
		var err error
		if userC, err = commitment.Commit(user); err != nil {
			return err
		}
		sampleC, err = commitment.Commit(sample)
		return err
	})
	return userC, sampleC, err
}

// buildResult is a pure stage; it cannot fail but still leaves its audit
// mark so the trail shows the full state machine.
func (o *Orchestrator) buildResult(ctx context.Context, runID domain.RunID, userID string, body ResultBody) *WorkflowResult {
	result := &WorkflowResult{UserID: userID, Result: body}
	o.appendAudit(ctx, runID, StageBuildResult, nil)
	return result
}

// finishDenied builds the AuthFailure result and delivers it: access
// denied is a reportable outcome, not a system error. userID is empty when
// the run was rejected before an identity was resolved.
func (o *Orchestrator) finishDenied(ctx context.Context, runID domain.RunID, userID, webhookURL string, cause error) RunReport {
	result := o.buildResult(ctx, runID, userID, ResultBody{
		Type:      ResultTypeAuthentication,
		IsSuccess: boolPtr(false),
	})
	return o.conclude(ctx, runID, WorkflowAuthentication, webhookURL, result, OutcomeAuthFailure, cause)
}

// finish is the exit path for runs that either succeeded or hit a system
// error before a result was built.
func (o *Orchestrator) finish(ctx context.Context, runID domain.RunID, workflow Workflow, webhookURL string, result *WorkflowResult, cause error) RunReport {
	outcome := OutcomeSuccess
	if cause != nil {
		outcome = OutcomeError
	}
	return o.conclude(ctx, runID, workflow, webhookURL, result, outcome, cause)
}

// conclude delivers the result when one was built, settles the terminal
// outcome, and emits the completion metrics exactly once per run.
func (o *Orchestrator) conclude(ctx context.Context, runID domain.RunID, workflow Workflow, webhookURL string, result *WorkflowResult, outcome Outcome, cause error) RunReport {
	report := RunReport{
		RunID:    runID,
		Workflow: workflow,
		Outcome:  outcome,
		Result:   result,
		Err:      cause,
	}

	if result != nil {
		if err := o.runStage(ctx, runID, StageDeliverResult, func(ctx context.Context) error {
			return o.deps.Deliverer.Deliver(ctx, webhookURL, result)
		}); err != nil {
			report.Outcome = OutcomeError
			report.Err = err
		}
	}

	if o.metrics != nil {
		o.metrics.RunsCompleted.WithLabelValues(string(workflow), string(report.Outcome)).Inc()
	}
	o.logger.InfoContext(ctx, "pipeline run finished",
		"run_id", runID.String(),
		"workflow", string(workflow),
		"outcome", string(report.Outcome),
	)
	return report
}

func (o *Orchestrator) startRun(ctx context.Context, workflow Workflow, runID domain.RunID) (context.Context, trace.Span) {
	if o.metrics != nil {
		o.metrics.RunsStarted.WithLabelValues(string(workflow)).Inc()
	}
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(workflow))
	span.SetAttributes(attribute.String("run.id", runID.String()))
	o.logger.InfoContext(ctx, "pipeline run started",
		"run_id", runID.String(),
		"workflow", string(workflow),
	)
	return ctx, span
}

// runStage executes one stage with bounded retry on transient failures.
// Every stage emits exactly one audit entry, whichever way it ends.
func (o *Orchestrator) runStage(ctx context.Context, runID domain.RunID, stage string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "stage."+stage)
	defer span.End()
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.retry.InitialInterval
	policy.MaxInterval = o.retry.MaxInterval
	policy.MaxElapsedTime = 0

	maxRetries := uint64(0)
	if o.retry.MaxAttempts > 1 {
		maxRetries = uint64(o.retry.MaxAttempts - 1)
	}

	err := backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if dErrors.HasCode(err, dErrors.CodeTransient) {
			if o.metrics != nil {
				o.metrics.StageRetries.WithLabelValues(stage).Inc()
			}
			o.logger.WarnContext(ctx, "stage failed, will retry",
				"run_id", runID.String(),
				"stage", stage,
				"error", err,
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))

	if o.metrics != nil {
		o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
	}
	o.appendAudit(ctx, runID, stage, err)
	return err
}

// appendAudit records a stage transition. The sink contract never fails
// the caller; losing a record must not abort a workflow.
func (o *Orchestrator) appendAudit(ctx context.Context, runID domain.RunID, stage string, stageErr error) {
	severity := audit.SeverityInfo
	message := "stage completed"
	if stageErr != nil {
		severity = audit.SeverityError
		message = stageErr.Error()
	}
	if err := o.deps.Audit.Append(ctx, audit.NewEntry(runID, stage, severity, message)); err != nil {
		o.logger.ErrorContext(ctx, "audit append failed",
			"run_id", runID.String(),
			"stage", stage,
			"error", err,
		)
	}
}

// denied reports whether err is an access-denied outcome rather than a
// system fault.
func denied(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeNoCandidate) ||
		dErrors.HasCode(err, dErrors.CodeUnauthorized)
}
