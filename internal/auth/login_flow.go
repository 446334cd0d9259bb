package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Reserved login step ids.
const (
	StepSelectMFAModule = "select_mfa_module"
	StepMFA             = "mfa"
)

// FieldMFAModule is the input key of the select_mfa_module step.
const FieldMFAModule = "multi_factor_auth_module"

// LoginExpiration is how long after creation a flow accepts an MFA code.
const LoginExpiration = 5 * time.Minute

// loginFlow is the state of one login attempt.
type loginFlow struct {
	mu sync.Mutex

	id        string
	handler   HandlerKey
	provider  Provider
	stepper   Stepper
	fctx      FlowContext
	createdAt time.Time
	stepID    string

	credentials *Credentials
	user        *User
	// modules are the user's enabled MFA modules in manager order.
	modules        []Option
	moduleID       string
	invalidCodes   int
	mfaInitialized bool
}

// LoginFlowManager runs login flows against the manager's providers.
//
// Thread Safety:
//   - Different flows progress in parallel.
//   - Calls on the same flow are serialised.
type LoginFlowManager struct {
	m *Manager

	mu    sync.Mutex
	flows map[string]*loginFlow
}

func newLoginFlowManager(m *Manager) *LoginFlowManager {
	return &LoginFlowManager{m: m, flows: make(map[string]*loginFlow)}
}

// Init starts a login flow against provider (providerType, providerID)
// and returns its first form.
func (lm *LoginFlowManager) Init(ctx context.Context, providerType, providerID string, fctx FlowContext) (FlowResult, error) {
	key := HandlerKey{Type: providerType, ID: providerID}
	p, ok := lm.m.AuthProvider(providerType, providerID)
	if !ok {
		return FlowResult{}, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, providerType, providerID)
	}

	stepper, err := p.LoginFlow(ctx, fctx)
	if err != nil {
		return FlowResult{}, fmt.Errorf("starting login flow for %s: %w", providerType, err)
	}

	now := lm.m.now()
	f := &loginFlow{
		id:        newFlowID(now),
		handler:   key,
		provider:  p,
		stepper:   stepper,
		fctx:      fctx,
		createdAt: now,
		stepID:    StepInit,
	}

	lm.mu.Lock()
	lm.purgeLocked(now)
	lm.flows[f.id] = f
	lm.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	res, err := lm.runProviderStep(ctx, f, StepInit, nil)
	return lm.settle(ctx, f, res, err)
}

// Configure submits input to the current step of flowID.
func (lm *LoginFlowManager) Configure(ctx context.Context, flowID string, input map[string]string) (FlowResult, error) {
	lm.mu.Lock()
	f, ok := lm.flows[flowID]
	lm.mu.Unlock()
	if !ok {
		return FlowResult{}, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		res FlowResult
		err error
	)
	switch f.stepID {
	case StepSelectMFAModule:
		res, err = lm.stepSelectMFAModule(ctx, f, input)
	case StepMFA:
		res, err = lm.stepMFA(ctx, f, input)
	default:
		res, err = lm.runProviderStep(ctx, f, f.stepID, input)
	}
	return lm.settle(ctx, f, res, err)
}

// Abort drops a flow. Unknown ids are ignored.
func (lm *LoginFlowManager) Abort(flowID string) {
	lm.mu.Lock()
	delete(lm.flows, flowID)
	lm.mu.Unlock()
}

// Progress lists the running flows, oldest first.
func (lm *LoginFlowManager) Progress() []FlowProgress {
	lm.mu.Lock()
	flows := make([]*loginFlow, 0, len(lm.flows))
	for _, f := range lm.flows {
		flows = append(flows, f)
	}
	lm.mu.Unlock()

	out := make([]FlowProgress, 0, len(flows))
	for _, f := range flows {
		f.mu.Lock()
		out = append(out, FlowProgress{FlowID: f.id, Handler: f.handler, StepID: f.stepID, CreatedAt: f.createdAt})
		f.mu.Unlock()
	}
	// ULIDs sort by creation time.
	slices.SortFunc(out, func(a, b FlowProgress) int { return strings.Compare(a.FlowID, b.FlowID) })
	return out
}

// settle records the outcome of a call and drops finished flows.
// Must be called with f.mu held.
func (lm *LoginFlowManager) settle(ctx context.Context, f *loginFlow, res FlowResult, err error) (FlowResult, error) {
	if err != nil {
		lm.remove(f.id)
		lm.m.logger.Error("login flow failed", "flow_id", f.id, "provider_type", f.handler.Type, "error", err)
		lm.m.recordLogin(ctx, f, "error", "", nil)
		return FlowResult{}, err
	}

	if res.Type == ResultForm {
		f.stepID = res.StepID
		return res, nil
	}

	lm.remove(f.id)
	switch res.Type {
	case ResultAbort:
		lm.m.recordLogin(ctx, f, "abort", res.Reason, nil)
	case ResultCreateEntry:
		lm.m.recordLogin(ctx, f, "success", "", res.User)
	}
	return res, nil
}

func (lm *LoginFlowManager) remove(id string) {
	lm.mu.Lock()
	delete(lm.flows, id)
	lm.mu.Unlock()
}

func (lm *LoginFlowManager) purgeLocked(now time.Time) {
	for id, f := range lm.flows {
		if now.Sub(f.createdAt) > flowTTL {
			delete(lm.flows, id)
		}
	}
}

// runProviderStep drives the provider's own steps.
func (lm *LoginFlowManager) runProviderStep(ctx context.Context, f *loginFlow, stepID string, input map[string]string) (FlowResult, error) {
	step, err := f.stepper.Step(ctx, stepID, input)
	if errors.Is(err, ErrInvalidAuth) {
		lm.m.logger.Info("login attempt failed", "provider_type", f.handler.Type, "ip_address", f.fctx.IPAddress)
		form, ferr := f.stepper.Step(ctx, stepID, nil)
		if ferr != nil {
			return FlowResult{}, ferr
		}
		form.Errors = map[string]string{"base": ErrorInvalidAuth}
		return formResult(f.id, f.handler, form), nil
	}
	if err != nil {
		return FlowResult{}, err
	}

	switch step.Kind {
	case StepAbort:
		return abortResult(f.id, f.handler, step.Reason), nil
	case StepDone:
		return lm.finish(ctx, f, step.Data)
	default:
		if step.StepID == "" {
			step.StepID = stepID
		}
		return formResult(f.id, f.handler, step), nil
	}
}

// finish resolves credentials and decides whether MFA is needed.
func (lm *LoginFlowManager) finish(ctx context.Context, f *loginFlow, data map[string]string) (FlowResult, error) {
	creds, err := f.provider.GetOrCreateCredentials(ctx, data)
	if err != nil {
		return FlowResult{}, fmt.Errorf("resolving credentials: %w", err)
	}
	f.credentials = creds

	if f.fctx.CredentialOnly {
		return lm.createEntry(f), nil
	}

	if creds.IsNew {
		return lm.createEntry(f), nil
	}

	user, err := lm.m.UserByCredentials(ctx, creds.ID)
	if err != nil {
		return FlowResult{}, err
	}
	if !user.IsActive {
		return abortResult(f.id, f.handler, AbortUserNotActive), nil
	}
	f.user = user

	if !f.provider.SupportMFA() {
		return lm.createEntry(f), nil
	}

	modules, err := lm.m.enabledMFAOptions(ctx, user.ID)
	if err != nil {
		return FlowResult{}, err
	}
	if len(modules) == 0 {
		return lm.createEntry(f), nil
	}
	f.modules = modules
	return lm.stepSelectMFAModule(ctx, f, nil)
}

func (lm *LoginFlowManager) stepSelectMFAModule(ctx context.Context, f *loginFlow, input map[string]string) (FlowResult, error) {
	var errs map[string]string

	if input != nil {
		chosen := input[FieldMFAModule]
		for _, o := range f.modules {
			if o.Value == chosen {
				f.moduleID = chosen
				return lm.stepMFA(ctx, f, nil)
			}
		}
		errs = map[string]string{"base": ErrorInvalidAuthModule}
	}

	if len(f.modules) == 1 {
		f.moduleID = f.modules[0].Value
		return lm.stepMFA(ctx, f, nil)
	}

	schema := []Field{{Name: FieldMFAModule, Type: FieldSelect, Required: true, Options: f.modules}}
	return formResult(f.id, f.handler, FormStep(StepSelectMFAModule, schema, errs)), nil
}

func (lm *LoginFlowManager) stepMFA(ctx context.Context, f *loginFlow, input map[string]string) (FlowResult, error) {
	module, ok := lm.m.AuthMFAModule(f.moduleID)
	if !ok {
		return abortResult(f.id, f.handler, AbortUnknownError), nil
	}

	if input == nil && !f.mfaInitialized {
		if init, ok := module.(LoginInitializer); ok {
			if err := init.InitializeLoginMFAStep(ctx, f.user.ID); err != nil {
				lm.m.logger.Error("initializing MFA login step failed", "module", module.ID(), "user_id", f.user.ID, "error", err)
				return abortResult(f.id, f.handler, AbortUnknownError), nil
			}
		}
		f.mfaInitialized = true
	}

	var errs map[string]string
	if input != nil {
		if lm.m.now().After(f.createdAt.Add(LoginExpiration)) {
			return abortResult(f.id, f.handler, AbortLoginExpired), nil
		}

		valid, err := module.Validate(ctx, f.user.ID, input)
		if err != nil {
			return FlowResult{}, fmt.Errorf("validating %s code: %w", module.ID(), err)
		}
		lm.m.recorder.ObserveMFA(module.ID(), valid)

		if valid {
			return lm.createEntry(f), nil
		}

		f.invalidCodes++
		if limit := module.MaxRetryTime(); limit > 0 && f.invalidCodes >= limit {
			return abortResult(f.id, f.handler, AbortTooManyRetry), nil
		}
		errs = map[string]string{"base": ErrorInvalidCode}
	}

	step := FormStep(StepMFA, module.InputSchema(), errs)
	step.Placeholders = map[string]string{
		"mfa_module_name": module.Name(),
		"mfa_module_id":   module.ID(),
	}
	return formResult(f.id, f.handler, step), nil
}

func (lm *LoginFlowManager) createEntry(f *loginFlow) FlowResult {
	return FlowResult{
		Type:        ResultCreateEntry,
		FlowID:      f.id,
		Handler:     f.handler,
		Credentials: f.credentials,
		User:        f.user,
	}
}
