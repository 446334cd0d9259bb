package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	notifysvc "github.com/Hatles/rx-home-sub002/internal/notify"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// fakeNotifier records every message.
type fakeNotifier struct {
	mu       sync.Mutex
	services []string
	sent     []notifysvc.Message
	err      error
}

func (f *fakeNotifier) Services() []string { return f.services }

func (f *fakeNotifier) Notify(_ context.Context, service string, msg notifysvc.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

// lastCode extracts the code from the latest message.
func (f *fakeNotifier) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message sent")
	}
	code, _, _ := strings.Cut(f.sent[len(f.sent)-1].Body, " ")
	return code
}

func newTestModule(t *testing.T, opts Options) (*Module, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{services: []string{"phone", "tablet", "pager"}}
	return NewModule(storage.NewMemoryBackend(), n, "", "", opts, nil), n
}

func TestServices_IncludeExclude(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{"all", Options{}, []string{"phone", "tablet", "pager"}},
		{"include", Options{Include: []string{"phone", "pager"}}, []string{"phone", "pager"}},
		{"exclude", Options{Exclude: []string{"pager"}}, []string{"phone", "tablet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModule(t, tt.opts)
			got := m.Services()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Services() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoginCodeCycle(t *testing.T) {
	ctx := context.Background()
	m, n := newTestModule(t, Options{})

	if err := m.SetupUser(ctx, "u1", map[string]string{FieldNotifyService: "phone"}); err != nil {
		t.Fatalf("SetupUser() error = %v", err)
	}
	if err := m.InitializeLoginMFAStep(ctx, "u1"); err != nil {
		t.Fatalf("InitializeLoginMFAStep() error = %v", err)
	}
	first := n.lastCode(t)

	ok, err := m.Validate(ctx, "u1", map[string]string{FieldCode: first})
	if err != nil || !ok {
		t.Fatalf("Validate(sent code) = %v, %v", ok, err)
	}

	if err := m.InitializeLoginMFAStep(ctx, "u1"); err != nil {
		t.Fatalf("second InitializeLoginMFAStep() error = %v", err)
	}
	if ok, _ := m.Validate(ctx, "u1", map[string]string{FieldCode: first}); ok && first != n.lastCode(t) {
		t.Error("previous code still accepted after a new one was sent")
	}
	if ok, _ := m.Validate(ctx, "u1", map[string]string{FieldCode: n.lastCode(t)}); !ok {
		t.Error("latest code rejected")
	}
}

func TestValidate_UnknownUser(t *testing.T) {
	m, _ := newTestModule(t, Options{})
	ok, err := m.Validate(context.Background(), "ghost", map[string]string{FieldCode: "123456"})
	if err != nil || ok {
		t.Errorf("Validate() = %v, %v", ok, err)
	}
}

func TestInitializeLoginMFAStep_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("not enrolled", func(t *testing.T) {
		m, _ := newTestModule(t, Options{})
		if err := m.InitializeLoginMFAStep(ctx, "ghost"); !errors.Is(err, auth.ErrInvalidUser) {
			t.Errorf("error = %v, want ErrInvalidUser", err)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		m, _ := newTestModule(t, Options{CodesPerMinute: 2})
		if err := m.SetupUser(ctx, "u1", map[string]string{FieldNotifyService: "phone"}); err != nil {
			t.Fatalf("SetupUser() error = %v", err)
		}
		for i := range 2 {
			if err := m.InitializeLoginMFAStep(ctx, "u1"); err != nil {
				t.Fatalf("send %d error = %v", i, err)
			}
		}
		if err := m.InitializeLoginMFAStep(ctx, "u1"); !errors.Is(err, ErrRateLimited) {
			t.Errorf("third send error = %v, want ErrRateLimited", err)
		}
	})

	t.Run("delivery failure", func(t *testing.T) {
		m, n := newTestModule(t, Options{})
		if err := m.SetupUser(ctx, "u1", map[string]string{FieldNotifyService: "phone"}); err != nil {
			t.Fatalf("SetupUser() error = %v", err)
		}
		n.err = notifysvc.ErrDelivery
		if err := m.InitializeLoginMFAStep(ctx, "u1"); !errors.Is(err, notifysvc.ErrDelivery) {
			t.Errorf("error = %v, want ErrDelivery", err)
		}
	})
}

func TestSetupUser_UnknownService(t *testing.T) {
	m, _ := newTestModule(t, Options{Exclude: []string{"pager"}})
	err := m.SetupUser(context.Background(), "u1", map[string]string{FieldNotifyService: "pager"})
	if !errors.Is(err, notifysvc.ErrUnknownService) {
		t.Errorf("SetupUser() error = %v, want ErrUnknownService", err)
	}
}

func TestSetupFlow(t *testing.T) {
	ctx := context.Background()
	m, n := newTestModule(t, Options{})

	flow, err := m.SetupFlow(ctx, "u1")
	if err != nil {
		t.Fatalf("SetupFlow() error = %v", err)
	}
	step, _ := flow.Step(ctx, auth.StepInit, nil)
	if step.Kind != auth.StepForm || len(step.Schema[0].Options) != 3 {
		t.Fatalf("initial step = %+v", step)
	}

	step, _ = flow.Step(ctx, auth.StepInit, map[string]string{FieldNotifyService: "fax"})
	if step.StepID != auth.StepInit || step.Errors[FieldNotifyService] == "" {
		t.Errorf("bad service step = %+v", step)
	}

	step, err = flow.Step(ctx, auth.StepInit, map[string]string{FieldNotifyService: "phone", FieldTarget: "alice"})
	if err != nil || step.StepID != StepSetup {
		t.Fatalf("service step = %+v, %v", step, err)
	}
	if n.sent[0].Target != "alice" {
		t.Errorf("message target = %q", n.sent[0].Target)
	}

	step, _ = flow.Step(ctx, StepSetup, map[string]string{FieldCode: "not-a-code"})
	if step.Errors["base"] != auth.ErrorInvalidCode {
		t.Errorf("wrong code step = %+v", step)
	}
	if len(n.sent) != 2 {
		t.Errorf("sent %d messages, want a fresh code after a wrong one", len(n.sent))
	}

	done, err := flow.Step(ctx, StepSetup, map[string]string{FieldCode: n.lastCode(t)})
	if err != nil || done.Kind != auth.StepDone {
		t.Fatalf("confirm step = %+v, %v", done, err)
	}
	if ok, _ := m.IsUserSetup(ctx, "u1"); !ok {
		t.Error("user not enrolled after setup flow")
	}
}

func TestNew_RequiresNotifier(t *testing.T) {
	_, err := New(auth.PluginDeps{Backend: storage.NewMemoryBackend()}, config.PluginConfig{Type: Type})
	if !errors.Is(err, auth.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}
