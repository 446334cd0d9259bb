// Package notify is the MFA module that sends one-time codes through a
// notification service.
//
// Codes are HOTP values. The counter advances each time a code is sent,
// so only the latest code is accepted.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa/otp"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	notifysvc "github.com/Hatles/rx-home-sub002/internal/notify"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// Type is the module type name used in configuration.
const Type = "notify"

// Defaults for the module id and name.
const (
	DefaultID   = "notify"
	DefaultName = "Notify One-Time Password"
)

// MaxRetryTime is the number of wrong codes allowed per login.
const MaxRetryTime = 3

// Form fields.
const (
	FieldCode          = "code"
	FieldNotifyService = "notify_service"
	FieldTarget        = "target"
)

// StepSetup is the code confirmation step of the setup flow.
const StepSetup = "setup"

// DefaultMessage is the message body; {code} is replaced by the code.
const DefaultMessage = "{code} is your login code"

// DefaultCodesPerMinute bounds how many codes a user can be sent.
const DefaultCodesPerMinute = 3

const (
	storageVersion = 1
	dummySecret    = "FPPTH34D4E3MI2HG"
)

// ErrRateLimited is returned when a user asks for codes too often.
var ErrRateLimited = errors.New("too many one-time codes requested")

// ErrNoService is returned when no notification service is usable.
var ErrNoService = errors.New("no notification service available")

// Options are the module's configuration keys.
type Options struct {
	Include        []string `yaml:"include"`
	Exclude        []string `yaml:"exclude"`
	Message        string   `yaml:"message"`
	CodesPerMinute int      `yaml:"codes_per_minute"`
}

// Setting is what the module stores per user.
type Setting struct {
	Secret        string `json:"secret"`
	Counter       uint64 `json:"counter"`
	NotifyService string `json:"notify_service"`
	Target        string `json:"target,omitempty"`
}

// Module sends and validates HOTP codes.
type Module struct {
	auth.MFABase
	users    *storage.Records[Setting]
	notifier notifysvc.Notifier
	opts     Options
	logger   auth.Logger

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a module from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.MFAModule, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if deps.Notifier == nil {
		return nil, fmt.Errorf("%w: %s needs a notification service", auth.ErrInvalidConfig, Type)
	}
	if opts.CodesPerMinute < 0 {
		return nil, fmt.Errorf("%w: codes_per_minute must not be negative", auth.ErrInvalidConfig)
	}
	return NewModule(deps.Backend, deps.Notifier, cfg.ID, cfg.Name, opts, deps.Logger), nil
}

// NewModule creates a module persisting to backend.
func NewModule(backend storage.Backend, notifier notifysvc.Notifier, id, name string, opts Options, logger auth.Logger) *Module {
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}
	if opts.CodesPerMinute == 0 {
		opts.CodesPerMinute = DefaultCodesPerMinute
	}
	if logger == nil {
		logger = auth.NopLogger()
	}
	base := auth.NewMFABase(id, name, DefaultID, DefaultName)
	return &Module{
		MFABase:  base,
		users:    storage.NewRecords[Setting](storage.NewStore(backend, auth.MFAStorageKey(base.ModuleID), storageVersion)),
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// InputSchema asks for the received code.
func (m *Module) InputSchema() []auth.Field {
	return []auth.Field{{Name: FieldCode, Type: auth.FieldString, Required: true}}
}

// MaxRetryTime returns the per-login retry limit.
func (m *Module) MaxRetryTime() int { return MaxRetryTime }

// Services lists the notification services users can choose from.
func (m *Module) Services() []string {
	var out []string
	for _, s := range m.notifier.Services() {
		if len(m.opts.Include) > 0 && !slices.Contains(m.opts.Include, s) {
			continue
		}
		if slices.Contains(m.opts.Exclude, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SetupUser enrols userID with data["notify_service"] and optional
// data["target"]. A secret is generated unless data["secret"] is given.
func (m *Module) SetupUser(ctx context.Context, userID string, data map[string]string) error {
	service := data[FieldNotifyService]
	if !slices.Contains(m.Services(), service) {
		return fmt.Errorf("%w: %s", notifysvc.ErrUnknownService, service)
	}
	secret := data["secret"]
	if secret == "" {
		var err error
		if secret, err = otp.NewSecret(); err != nil {
			return err
		}
	}
	return m.users.Put(ctx, userID, Setting{Secret: secret, NotifyService: service, Target: data[FieldTarget]})
}

// DeposeUser forgets the user's setting.
func (m *Module) DeposeUser(ctx context.Context, userID string) error {
	return m.users.Delete(ctx, userID)
}

// IsUserSetup reports whether userID is enrolled.
func (m *Module) IsUserSetup(ctx context.Context, userID string) (bool, error) {
	return m.users.Has(ctx, userID)
}

// InitializeLoginMFAStep advances the user's counter and sends the new code.
func (m *Module) InitializeLoginMFAStep(ctx context.Context, userID string) error {
	if !m.allow(userID) {
		return ErrRateLimited
	}

	var setting Setting
	var enrolled bool
	err := m.users.Update(ctx, userID, func(cur Setting, ok bool) (Setting, bool) {
		if !ok {
			return cur, false
		}
		cur.Counter++
		setting, enrolled = cur, true
		return cur, true
	})
	if err != nil {
		return err
	}
	if !enrolled {
		return fmt.Errorf("%w: %s is not set up for %s", auth.ErrInvalidUser, userID, m.ID())
	}

	code, err := otp.HOTP(setting.Secret, setting.Counter)
	if err != nil {
		return err
	}
	return m.send(ctx, setting.NotifyService, setting.Target, code)
}

// Validate checks input["code"] against the user's current counter.
func (m *Module) Validate(ctx context.Context, userID string, input map[string]string) (bool, error) {
	setting, ok, err := m.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		otp.VerifyHOTP(dummySecret, input[FieldCode], 0) //nolint:errcheck // timing only
		return false, nil
	}
	return otp.VerifyHOTP(setting.Secret, input[FieldCode], setting.Counter)
}

// SetupFlow asks for a service and target, sends a code through it, then
// enrols the user once the code is confirmed.
func (m *Module) SetupFlow(_ context.Context, userID string) (auth.Stepper, error) {
	services := m.Services()
	if len(services) == 0 {
		return nil, ErrNoService
	}
	options := make([]auth.Option, len(services))
	for i, s := range services {
		options[i] = auth.Option{Value: s, Label: s}
	}
	selectSchema := []auth.Field{
		{Name: FieldNotifyService, Type: auth.FieldSelect, Required: true, Options: options},
		{Name: FieldTarget, Type: auth.FieldString},
	}

	var (
		secret  string
		counter uint64
		service string
		target  string
	)

	return auth.StepperFunc(func(ctx context.Context, stepID string, input map[string]string) (auth.Step, error) {
		switch {
		case input == nil && stepID == auth.StepInit:
			return auth.FormStep(auth.StepInit, selectSchema, nil), nil

		case stepID == auth.StepInit:
			service, target = input[FieldNotifyService], input[FieldTarget]
			if !slices.Contains(services, service) {
				return auth.FormStep(auth.StepInit, selectSchema, map[string]string{FieldNotifyService: "invalid_service"}), nil
			}
			var err error
			if secret, err = otp.NewSecret(); err != nil {
				return auth.Step{}, err
			}
			counter = 1
			if err := m.sendSetupCode(ctx, userID, secret, counter, service, target); err != nil {
				return auth.Step{}, err
			}
			return m.setupStep(service, nil), nil

		case input == nil:
			return m.setupStep(service, nil), nil
		}

		ok, err := otp.VerifyHOTP(secret, input[FieldCode], counter)
		if err != nil {
			return auth.Step{}, err
		}
		if ok {
			if err := m.users.Put(ctx, userID, Setting{Secret: secret, Counter: counter, NotifyService: service, Target: target}); err != nil {
				return auth.Step{}, err
			}
			return auth.DoneStep(nil), nil
		}

		counter++
		if err := m.sendSetupCode(ctx, userID, secret, counter, service, target); err != nil {
			return auth.Step{}, err
		}
		return m.setupStep(service, map[string]string{"base": auth.ErrorInvalidCode}), nil
	}), nil
}

func (m *Module) setupStep(service string, errs map[string]string) auth.Step {
	step := auth.FormStep(StepSetup, m.InputSchema(), errs)
	step.Placeholders = map[string]string{"notify_service": service}
	return step
}

func (m *Module) sendSetupCode(ctx context.Context, userID, secret string, counter uint64, service, target string) error {
	if !m.allow(userID) {
		return ErrRateLimited
	}
	code, err := otp.HOTP(secret, counter)
	if err != nil {
		return err
	}
	return m.send(ctx, service, target, code)
}

func (m *Module) send(ctx context.Context, service, target, code string) error {
	msg := notifysvc.Message{
		Title:  "Login code",
		Body:   strings.ReplaceAll(m.opts.Message, "{code}", code),
		Target: target,
	}
	if err := m.notifier.Notify(ctx, service, msg); err != nil {
		m.logger.Warn("sending one-time code failed", "module", m.ID(), "service", service, "error", err)
		return err
	}
	return nil
}

// allow takes one token from the user's limiter.
func (m *Module) allow(userID string) bool {
	m.limitMu.Lock()
	defer m.limitMu.Unlock()
	l, ok := m.limiters[userID]
	if !ok {
		per := rate.Every(time.Minute / time.Duration(m.opts.CodesPerMinute))
		l = rate.NewLimiter(per, m.opts.CodesPerMinute)
		m.limiters[userID] = l
	}
	return l.Allow()
}
