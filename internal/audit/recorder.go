package audit

import (
	"context"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/events"
)

// Source is stamped on every entry written by Recorder.
const Source = "auth"

// Entity types written by Recorder.
const (
	EntityUser         = "user"
	EntityAuthProvider = "auth_provider"
)

// Logger defines the logging interface used by Recorder.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Recorder turns auth events into audit entries.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Subscribe attaches the recorder to bus. The returned func detaches it.
func (r *Recorder) Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(auth.EventUserAdded, r.Handle),
		bus.Subscribe(auth.EventUserUpdated, r.Handle),
		bus.Subscribe(auth.EventUserRemoved, r.Handle),
		bus.Subscribe(auth.EventLoginAttempt, r.Handle),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handle writes the entry for ev. Events it does not know are ignored.
func (r *Recorder) Handle(ctx context.Context, ev events.Event) {
	e, ok := entryFor(ev)
	if !ok {
		return
	}
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("writing audit entry failed",
			"event_type", ev.Type,
			"error", err,
		)
	}
}

func entryFor(ev events.Event) (*Entry, bool) {
	userID, _ := ev.Data["user_id"].(string)
	e := &Entry{Source: Source, CreatedAt: ev.Time}

	switch ev.Type {
	case auth.EventUserAdded:
		e.Action, e.EntityType, e.EntityID = "create", EntityUser, userID
	case auth.EventUserUpdated:
		e.Action, e.EntityType, e.EntityID = "update", EntityUser, userID
	case auth.EventUserRemoved:
		e.Action, e.EntityType, e.EntityID = "delete", EntityUser, userID
	case auth.EventLoginAttempt:
		providerType, _ := ev.Data["provider_type"].(string)
		e.Action, e.EntityType, e.EntityID = "login", EntityAuthProvider, providerType
		e.UserID = userID
		e.Details = make(map[string]any, len(ev.Data))
		for k, v := range ev.Data {
			if k != "user_id" && k != "provider_type" {
				e.Details[k] = v
			}
		}
	default:
		return nil, false
	}
	return e, true
}
