package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type setupFlow struct {
	mu sync.Mutex

	id        string
	handler   HandlerKey
	userID    string
	stepper   Stepper
	stepID    string
	createdAt time.Time
}

// SetupFlowManager runs MFA enrolment wizards.
type SetupFlowManager struct {
	m *Manager

	mu    sync.Mutex
	flows map[string]*setupFlow
}

func newSetupFlowManager(m *Manager) *SetupFlowManager {
	return &SetupFlowManager{m: m, flows: make(map[string]*setupFlow)}
}

// Init starts enrolling userID in module moduleID.
func (sm *SetupFlowManager) Init(ctx context.Context, moduleID, userID string) (FlowResult, error) {
	module, ok := sm.m.AuthMFAModule(moduleID)
	if !ok {
		return FlowResult{}, fmt.Errorf("%w: %s", ErrUnknownMFAModule, moduleID)
	}
	user, err := sm.m.User(ctx, userID)
	if err != nil {
		return FlowResult{}, err
	}
	if user.SystemGenerated {
		return FlowResult{}, fmt.Errorf("%w: system users cannot enable MFA", ErrInvalidUser)
	}

	stepper, err := module.SetupFlow(ctx, userID)
	if err != nil {
		return FlowResult{}, fmt.Errorf("starting %s setup: %w", moduleID, err)
	}

	now := sm.m.now()
	f := &setupFlow{
		id:        newFlowID(now),
		handler:   HandlerKey{Type: "mfa", ID: moduleID},
		userID:    userID,
		stepper:   stepper,
		stepID:    StepInit,
		createdAt: now,
	}

	sm.mu.Lock()
	for id, old := range sm.flows {
		if now.Sub(old.createdAt) > flowTTL {
			delete(sm.flows, id)
		}
	}
	sm.flows[f.id] = f
	sm.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	return sm.run(ctx, f, nil)
}

// Configure submits input to the current step of flowID.
func (sm *SetupFlowManager) Configure(ctx context.Context, flowID string, input map[string]string) (FlowResult, error) {
	sm.mu.Lock()
	f, ok := sm.flows[flowID]
	sm.mu.Unlock()
	if !ok {
		return FlowResult{}, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return sm.run(ctx, f, input)
}

// Abort drops a setup flow.
func (sm *SetupFlowManager) Abort(flowID string) {
	sm.mu.Lock()
	delete(sm.flows, flowID)
	sm.mu.Unlock()
}

func (sm *SetupFlowManager) run(ctx context.Context, f *setupFlow, input map[string]string) (FlowResult, error) {
	step, err := f.stepper.Step(ctx, f.stepID, input)
	if err != nil {
		sm.drop(f.id)
		return FlowResult{}, err
	}

	switch step.Kind {
	case StepForm:
		if step.StepID != "" {
			f.stepID = step.StepID
		}
		step.StepID = f.stepID
		return formResult(f.id, f.handler, step), nil
	case StepAbort:
		sm.drop(f.id)
		return abortResult(f.id, f.handler, step.Reason), nil
	default:
		sm.drop(f.id)
		sm.m.logger.Info("MFA module enabled", "module", f.handler.ID, "user_id", f.userID)
		sm.m.fire(ctx, EventUserUpdated, map[string]any{"user_id": f.userID})
		return FlowResult{Type: ResultCreateEntry, FlowID: f.id, Handler: f.handler, Data: step.Data}, nil
	}
}

func (sm *SetupFlowManager) drop(id string) {
	sm.mu.Lock()
	delete(sm.flows, id)
	sm.mu.Unlock()
}
