package auth

import (
	"context"
	"time"
)

// FieldType is the input widget a form field expects.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldPassword FieldType = "password"
	FieldSelect   FieldType = "select"
	FieldBool     FieldType = "boolean"
)

// Field is one input of a form step.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Options lists the allowed values of a select field.
	Options []Option `json:"options,omitempty"`
}

// Option is a selectable value.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// StepKind tells a flow driver what to do with a Step.
type StepKind string

const (
	StepForm  StepKind = "form"
	StepDone  StepKind = "create_entry"
	StepAbort StepKind = "abort"
)

// Step is what a Stepper returns: another form to show, a finished result
// or an abort.
type Step struct {
	Kind         StepKind
	StepID       string
	Schema       []Field
	Errors       map[string]string
	Placeholders map[string]string
	Reason       string
	// Data carries the result of a finished step.
	Data map[string]string
}

// FormStep shows (or re-shows) a form.
func FormStep(stepID string, schema []Field, errs map[string]string) Step {
	return Step{Kind: StepForm, StepID: stepID, Schema: schema, Errors: errs}
}

// AbortStep ends the flow with reason.
func AbortStep(reason string) Step {
	return Step{Kind: StepAbort, Reason: reason}
}

// DoneStep ends the flow successfully with data.
func DoneStep(data map[string]string) Step {
	return Step{Kind: StepDone, Data: data}
}

// Stepper is a provider login flow or an MFA setup flow.
//
// Step is called with a nil input to show the form of stepID and with the
// user's input to submit it. Returning an error wrapping ErrInvalidAuth
// re-shows the form with the invalid_auth error; any other error fails
// the call.
type Stepper interface {
	Step(ctx context.Context, stepID string, input map[string]string) (Step, error)
}

// StepperFunc adapts a function to Stepper.
type StepperFunc func(ctx context.Context, stepID string, input map[string]string) (Step, error)

// Step calls f.
func (f StepperFunc) Step(ctx context.Context, stepID string, input map[string]string) (Step, error) {
	return f(ctx, stepID, input)
}

// Initial step id of every flow.
const StepInit = "init"

// ResultType is the externally visible outcome of a flow call.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Form error and abort reasons.
const (
	ErrorInvalidAuth       = "invalid_auth"
	ErrorInvalidCode       = "invalid_code"
	ErrorInvalidAuthModule = "invalid_auth_module"

	AbortLoginExpired  = "login_expired"
	AbortTooManyRetry  = "too_many_retry"
	AbortUserNotActive = "user_not_active"
	AbortUnknownError  = "unknown_error"
	AbortNotAllowed    = "not_allowed"
	AbortNoAuthModule  = "no_available_auth_module"
)

// HandlerKey identifies the plugin a flow runs against.
type HandlerKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FlowResult is returned by every flow manager call.
type FlowResult struct {
	Type                    ResultType
	FlowID                  string
	Handler                 HandlerKey
	StepID                  string
	Schema                  []Field
	Errors                  map[string]string
	DescriptionPlaceholders map[string]string
	Reason                  string

	// Set on create_entry of a login flow. User is nil for credentials that
	// are not linked to a user yet.
	Credentials *Credentials
	User        *User

	Data map[string]string
}

// Terminal reports whether the flow is finished.
func (r FlowResult) Terminal() bool {
	return r.Type == ResultCreateEntry || r.Type == ResultAbort
}

// FlowProgress describes a flow that is still running.
type FlowProgress struct {
	FlowID    string
	Handler   HandlerKey
	StepID    string
	CreatedAt time.Time
}

// flowTTL bounds how long an abandoned flow is kept in memory.
const flowTTL = 30 * time.Minute

func formResult(flowID string, h HandlerKey, s Step) FlowResult {
	return FlowResult{
		Type:                    ResultForm,
		FlowID:                  flowID,
		Handler:                 h,
		StepID:                  s.StepID,
		Schema:                  s.Schema,
		Errors:                  s.Errors,
		DescriptionPlaceholders: s.Placeholders,
	}
}

func abortResult(flowID string, h HandlerKey, reason string) FlowResult {
	return FlowResult{Type: ResultAbort, FlowID: flowID, Handler: h, Reason: reason}
}
