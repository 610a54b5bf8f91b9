package pipeline

import id "voicepassport/pkg/domain"

// Workflow names the three pipeline workflows.
type Workflow string

const (
	WorkflowRegistration   Workflow = "registration"
	WorkflowAuthentication Workflow = "authentication"
	WorkflowStateChange    Workflow = "state_change"
)

// Outcome is the terminal state of a run. AuthFailure is a business
// outcome (access denied), distinct from Error (try again later) so
// callers can branch without parsing messages.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeAuthFailure Outcome = "auth_failure"
	OutcomeError       Outcome = "error"
)

// Result type discriminators carried in the webhook payload.
const (
	ResultTypeRegistration   = "identity_registration"
	ResultTypeAuthentication = "authentication"
	ResultTypeStateChange    = "change_state"
)

// ResultBody is the typed outcome inside a WorkflowResult. Registration
// and StateChange report Result; Authentication reports IsSuccess and,
// when access is granted, an access token.
type ResultBody struct {
	Type        string `json:"type"`
	Result      *bool  `json:"result,omitempty"`
	IsSuccess   *bool  `json:"isSuccess,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// WorkflowResult is the normalized payload delivered to the webhook.
type WorkflowResult struct {
	UserID string     `json:"user_id"`
	Result ResultBody `json:"result"`
}

// RunReport is what the orchestrator hands back to its caller once a run
// is terminal. Result is nil when the run ended as Error before a
// normalized result could be built.
type RunReport struct {
	RunID    id.RunID
	Workflow Workflow
	Outcome  Outcome
	Result   *WorkflowResult
	Err      error
}

func boolPtr(v bool) *bool { return &v }
