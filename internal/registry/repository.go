package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists entities and devices.
type Repository interface {
	ListDevices(ctx context.Context) ([]Device, error)
	ListEntities(ctx context.Context) ([]Entity, error)

	// SaveDevice inserts or replaces a device.
	SaveDevice(ctx context.Context, d *Device) error
	// DeleteDevice removes a device. Its entities keep existing without one.
	// Returns ErrDeviceNotFound if the device does not exist.
	DeleteDevice(ctx context.Context, id string) error

	// SaveEntity inserts or replaces an entity.
	SaveEntity(ctx context.Context, e *Entity) error
	// DeleteEntity returns ErrEntityNotFound if the entity does not exist.
	DeleteEntity(ctx context.Context, entityID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// ListDevices returns every device ordered by id.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, area_id, created_at
		FROM registry_devices
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var (
			d         Device
			areaID    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&d.ID, &d.Name, &areaID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.AreaID = areaID.String
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // zero time on legacy rows
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// ListEntities returns every entity ordered by entity id.
func (r *SQLiteRepository) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, domain, device_id, area_id, created_at
		FROM registry_entities
		ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var (
			e                Entity
			deviceID, areaID sql.NullString
			createdAt        string
		)
		if err := rows.Scan(&e.EntityID, &e.Domain, &deviceID, &areaID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.DeviceID = deviceID.String
		e.AreaID = areaID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // zero time on legacy rows
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

// SaveDevice inserts or replaces a device. CreatedAt is set on first save.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDevice)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registry_devices (id, name, area_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			area_id = excluded.area_id`,
		d.ID, d.Name, nullString(d.AreaID), d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving device %s: %w", d.ID, err)
	}
	return nil
}

// DeleteDevice removes a device; foreign keys clear device_id on its entities.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registry_devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return expectOneRow(res, ErrDeviceNotFound)
}

// SaveEntity inserts or replaces an entity. The domain is derived from the id.
func (r *SQLiteRepository) SaveEntity(ctx context.Context, e *Entity) error {
	domain, _, err := SplitEntityID(e.EntityID)
	if err != nil {
		return err
	}
	e.Domain = domain
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO registry_entities (entity_id, domain, device_id, area_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			device_id = excluded.device_id,
			area_id = excluded.area_id`,
		e.EntityID, e.Domain, nullString(e.DeviceID), nullString(e.AreaID), e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving entity %s: %w", e.EntityID, err)
	}
	return nil
}

// DeleteEntity removes an entity.
func (r *SQLiteRepository) DeleteEntity(ctx context.Context, entityID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registry_entities WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", entityID, err)
	}
	return expectOneRow(res, ErrEntityNotFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
