package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
)

// Device is a physical or virtual device that groups entities.
type Device struct {
	ID        string
	Name      string
	AreaID    string
	CreatedAt time.Time
}

// Entity is one controllable or readable thing, addressed as
// "<domain>.<object_id>".
type Entity struct {
	EntityID  string
	Domain    string
	DeviceID  string
	AreaID    string
	CreatedAt time.Time
}

// SplitEntityID returns the domain and object id of entityID.
func SplitEntityID(entityID string) (domain, objectID string, err error) {
	domain, objectID, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" || objectID == "" || strings.ContainsAny(entityID, " /") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return domain, objectID, nil
}

func (e Entity) entry() permissions.EntityEntry {
	return permissions.EntityEntry{EntityID: e.EntityID, DeviceID: e.DeviceID, AreaID: e.AreaID}
}

func (d Device) entry() permissions.DeviceEntry {
	return permissions.DeviceEntry{ID: d.ID, AreaID: d.AreaID}
}
