package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/storage"
)

func submitLogin(t *testing.T, env *testEnv, username, password string) FlowResult {
	t.Helper()
	ctx := context.Background()
	res, err := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{IPAddress: "192.168.1.20"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if res.Type != ResultForm || res.StepID != StepInit {
		t.Fatalf("Init() = %+v, want init form", res)
	}
	res, err = env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"username": username, "password": password})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return res
}

func TestLoginFlow_InvalidAuthReshowsForm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := submitLogin(t, env, "alice", "wrong")
	if res.Type != ResultForm || res.StepID != StepInit || res.Errors["base"] != ErrorInvalidAuth {
		t.Fatalf("result = %+v, want init form with invalid_auth", res)
	}
	if len(res.Schema) != 2 {
		t.Errorf("schema = %+v, want username and password", res.Schema)
	}

	// The flow is still alive and accepts a retry.
	res, err := env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"username": "alice", "password": "secret123"})
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if res.Type != ResultCreateEntry {
		t.Errorf("retry result = %+v, want create_entry", res)
	}
}

func TestLoginFlow_NewCredentials(t *testing.T) {
	env := newTestEnv(t)

	res := submitLogin(t, env, "alice", "secret123")
	if res.Type != ResultCreateEntry {
		t.Fatalf("result = %+v, want create_entry", res)
	}
	if res.User != nil {
		t.Errorf("User = %+v, want nil for new credentials", res.User)
	}
	if res.Credentials == nil || !res.Credentials.IsNew || res.Credentials.Data["username"] != "alice" {
		t.Errorf("Credentials = %+v", res.Credentials)
	}
	if got := env.recorder.logins["success"]; got != 1 {
		t.Errorf("success logins = %d, want 1", got)
	}
}

func TestLoginFlow_ExistingUserWithoutMFA(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createLinkedUser(t, "alice")

	res := submitLogin(t, env, "alice", "secret123")
	if res.Type != ResultCreateEntry || res.User == nil || res.User.ID != alice.ID {
		t.Fatalf("result = %+v, want create_entry for alice", res)
	}

	attempts := env.bus.ofType(EventLoginAttempt)
	if len(attempts) != 1 {
		t.Fatalf("login_attempt events = %d, want 1", len(attempts))
	}
	data := attempts[0].Data
	if data["result"] != "success" || data["user_id"] != alice.ID || data["ip_address"] != "192.168.1.20" || data["provider_type"] != "test" {
		t.Errorf("event data = %v", data)
	}
}

func TestLoginFlow_InactiveUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.m.CreateUser(ctx, CreateUserOptions{Name: "Owner"})
	bob := env.createLinkedUser(t, "bob")
	if _, err := env.m.DeactivateUser(ctx, bob.ID); err != nil {
		t.Fatalf("DeactivateUser() error = %v", err)
	}

	res := submitLogin(t, env, "bob", "hunter2")
	if res.Type != ResultAbort || res.Reason != AbortUserNotActive {
		t.Errorf("result = %+v, want user_not_active abort", res)
	}
	attempts := env.bus.ofType(EventLoginAttempt)
	if len(attempts) != 1 || attempts[0].Data["reason"] != AbortUserNotActive {
		t.Errorf("login_attempt events = %+v", attempts)
	}
}

func TestLoginFlow_CredentialOnly(t *testing.T) {
	pin := newTestModule("pin", 3)
	env := newTestEnv(t, pin)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = pin.SetupUser(ctx, alice.ID, map[string]string{"code": "1234"})

	res, err := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{CredentialOnly: true})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	res, err = env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"username": "alice", "password": "secret123"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.Type != ResultCreateEntry || res.User != nil || res.Credentials == nil || res.Credentials.IsNew {
		t.Errorf("result = %+v, want credentials without user or MFA", res)
	}
}

func TestLoginFlow_SingleModuleAutoSelected(t *testing.T) {
	pin := newTestModule("pin", 3)
	env := newTestEnv(t, pin)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	if err := env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1234"}); err != nil {
		t.Fatalf("EnableUserMFA() error = %v", err)
	}

	res := submitLogin(t, env, "alice", "secret123")
	if res.Type != ResultForm || res.StepID != StepMFA {
		t.Fatalf("result = %+v, want mfa form", res)
	}
	if res.DescriptionPlaceholders["mfa_module_id"] != "pin" || res.DescriptionPlaceholders["mfa_module_name"] != "Module pin" {
		t.Errorf("placeholders = %v", res.DescriptionPlaceholders)
	}
	if pin.inits != 1 {
		t.Errorf("InitializeLoginMFAStep calls = %d, want 1", pin.inits)
	}

	res, err := env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"code": "0000"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.Type != ResultForm || res.StepID != StepMFA || res.Errors["base"] != ErrorInvalidCode {
		t.Fatalf("wrong code result = %+v, want invalid_code", res)
	}
	if pin.inits != 1 {
		t.Errorf("re-shown form initialised the module again: %d", pin.inits)
	}

	res, err = env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"code": "1234"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.Type != ResultCreateEntry || res.User == nil || res.User.ID != alice.ID {
		t.Errorf("result = %+v, want create_entry for alice", res)
	}
	if env.recorder.mfa[true] != 1 || env.recorder.mfa[false] != 1 {
		t.Errorf("mfa observations = %v", env.recorder.mfa)
	}
}

func TestLoginFlow_SelectModule(t *testing.T) {
	pin := newTestModule("pin", 3)
	sms := newTestModule("sms", 3)
	env := newTestEnv(t, pin, sms)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1111"})
	_ = env.m.EnableUserMFA(ctx, alice.ID, "sms", map[string]string{"code": "2222"})

	res := submitLogin(t, env, "alice", "secret123")
	if res.Type != ResultForm || res.StepID != StepSelectMFAModule {
		t.Fatalf("result = %+v, want select_mfa_module form", res)
	}
	opts := res.Schema[0].Options
	if res.Schema[0].Name != FieldMFAModule || len(opts) != 2 || opts[0].Value != "pin" || opts[1].Value != "sms" {
		t.Fatalf("schema = %+v", res.Schema)
	}

	res, err := env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{FieldMFAModule: "email"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.StepID != StepSelectMFAModule || res.Errors["base"] != ErrorInvalidAuthModule {
		t.Fatalf("unknown module result = %+v, want invalid_auth_module", res)
	}

	res, err = env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{FieldMFAModule: "sms"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.StepID != StepMFA || res.DescriptionPlaceholders["mfa_module_id"] != "sms" {
		t.Fatalf("result = %+v, want sms code form", res)
	}
	if sms.inits != 1 || pin.inits != 0 {
		t.Errorf("inits sms=%d pin=%d, want 1 and 0", sms.inits, pin.inits)
	}

	res, err = env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"code": "2222"})
	if err != nil || res.Type != ResultCreateEntry {
		t.Errorf("Configure() = %+v, %v, want create_entry", res, err)
	}
}

func TestLoginFlow_ProviderWithoutMFASupport(t *testing.T) {
	pin := newTestModule("pin", 3)
	env := newTestEnv(t, pin)
	env.provider.noMFA = true
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1234"})

	if res := submitLogin(t, env, "alice", "secret123"); res.Type != ResultCreateEntry {
		t.Errorf("result = %+v, want create_entry without MFA", res)
	}
}

func TestLoginFlow_TooManyRetry(t *testing.T) {
	pin := newTestModule("pin", 2)
	env := newTestEnv(t, pin)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1234"})

	res := submitLogin(t, env, "alice", "secret123")
	flowID := res.FlowID

	res, _ = env.m.LoginFlows().Configure(ctx, flowID, map[string]string{"code": "0000"})
	if res.Type != ResultForm {
		t.Fatalf("first wrong code = %+v, want form", res)
	}
	res, _ = env.m.LoginFlows().Configure(ctx, flowID, map[string]string{"code": "0000"})
	if res.Type != ResultAbort || res.Reason != AbortTooManyRetry {
		t.Fatalf("second wrong code = %+v, want too_many_retry", res)
	}

	if _, err := env.m.LoginFlows().Configure(ctx, flowID, map[string]string{"code": "1234"}); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Configure() after abort error = %v, want ErrFlowNotFound", err)
	}
}

func TestLoginFlow_Expired(t *testing.T) {
	pin := newTestModule("pin", 0)
	env := newTestEnv(t, pin)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1234"})

	res := submitLogin(t, env, "alice", "secret123")
	env.clock.advance(LoginExpiration + time.Second)

	res, err := env.m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"code": "1234"})
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if res.Type != ResultAbort || res.Reason != AbortLoginExpired {
		t.Errorf("result = %+v, want login_expired", res)
	}
}

func TestLoginFlow_ModuleInitFailure(t *testing.T) {
	pin := newTestModule("pin", 3)
	pin.initErr = errors.New("gateway down")
	env := newTestEnv(t, pin)
	ctx := context.Background()
	alice := env.createLinkedUser(t, "alice")
	_ = env.m.EnableUserMFA(ctx, alice.ID, "pin", map[string]string{"code": "1234"})

	res := submitLogin(t, env, "alice", "secret123")
	if res.Type != ResultAbort || res.Reason != AbortUnknownError {
		t.Errorf("result = %+v, want unknown_error", res)
	}
}

func TestLoginFlow_UnknownProviderAndFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.m.LoginFlows().Init(ctx, "nope", "", FlowContext{}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Init() error = %v, want ErrUnknownProvider", err)
	}
	if _, err := env.m.LoginFlows().Configure(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", nil); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Configure() error = %v, want ErrFlowNotFound", err)
	}
}

func TestLoginFlow_ProgressAndAbort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _ := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{})
	env.clock.advance(time.Second)
	second, _ := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{})

	progress := env.m.LoginFlows().Progress()
	if len(progress) != 2 || progress[0].FlowID != first.FlowID || progress[1].FlowID != second.FlowID {
		t.Fatalf("Progress() = %+v, want both flows oldest first", progress)
	}
	if progress[0].StepID != StepInit || progress[0].Handler.Type != "test" {
		t.Errorf("progress[0] = %+v", progress[0])
	}

	env.m.LoginFlows().Abort(first.FlowID)
	env.m.LoginFlows().Abort("unknown")
	if progress := env.m.LoginFlows().Progress(); len(progress) != 1 || progress[0].FlowID != second.FlowID {
		t.Errorf("Progress() after abort = %+v", progress)
	}
	if _, err := env.m.LoginFlows().Configure(ctx, first.FlowID, nil); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Configure() on aborted flow error = %v, want ErrFlowNotFound", err)
	}
}

func TestLoginFlow_AbandonedFlowsArePurged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old, _ := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{})
	env.clock.advance(flowTTL + time.Minute)
	if _, err := env.m.LoginFlows().Init(ctx, "test", "", FlowContext{}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	for _, p := range env.m.LoginFlows().Progress() {
		if p.FlowID == old.FlowID {
			t.Errorf("abandoned flow %s still listed", old.FlowID)
		}
	}
}

func TestLoginFlow_ParallelFlows(t *testing.T) {
	store := NewStore(storage.NewMemoryBackend())
	users := map[string]string{}
	for _, name := range []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7"} {
		users[name] = "pw-" + name
	}
	p := newTestProvider(store, "", users)
	m, err := NewManager(store, []Provider{p}, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for name, pw := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.LoginFlows().Init(ctx, "test", "", FlowContext{})
			if err != nil {
				t.Errorf("Init() error = %v", err)
				return
			}
			res, err = m.LoginFlows().Configure(ctx, res.FlowID, map[string]string{"username": name, "password": pw})
			if err != nil || res.Type != ResultCreateEntry || res.Credentials.Data["username"] != name {
				t.Errorf("Configure(%s) = %+v, %v", name, res, err)
			}
		}()
	}
	wg.Wait()

	if left := m.LoginFlows().Progress(); len(left) != 0 {
		t.Errorf("finished flows still listed: %+v", left)
	}
}
