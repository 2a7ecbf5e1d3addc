package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Repository persists registry entries.
type Repository interface {
	// UpsertDevice creates the device or updates its descriptive fields.
	UpsertDevice(ctx context.Context, d Device) error

	// GetDevice returns ErrNotFound if the device does not exist.
	GetDevice(ctx context.Context, profileID, id string) (*Device, error)

	ListDevices(ctx context.Context, profileID string) ([]Device, error)

	// DeleteDevice removes the device and its entities.
	DeleteDevice(ctx context.Context, profileID, id string) error

	UpsertEntity(ctx context.Context, e Entity) error
	ListEntities(ctx context.Context, profileID string) ([]Entity, error)
	DeleteEntity(ctx context.Context, profileID string, platform smartwater.Platform, uniqueID string) error
}

// SQLiteRepository implements Repository on the registry tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const timeFormat = time.RFC3339Nano

// UpsertDevice creates or updates a device. CreatedAt is kept on update.
func (r *SQLiteRepository) UpsertDevice(ctx context.Context, d Device) error {
	if err := d.validate(); err != nil {
		return err
	}
	now := r.now().UTC().Format(timeFormat)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registry_devices (id, profile_id, family, name, manufacturer, model,
			serial_number, hw_version, via_device_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, id) DO UPDATE SET
			family = excluded.family,
			name = excluded.name,
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			serial_number = excluded.serial_number,
			hw_version = excluded.hw_version,
			via_device_id = excluded.via_device_id,
			updated_at = excluded.updated_at`,
		d.ID, d.ProfileID, string(d.Family), d.Name, d.Manufacturer, d.Model,
		d.SerialNumber, d.HWVersion, d.ViaDeviceID, now, now)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.ID, err)
	}
	return nil
}

const deviceColumns = `id, profile_id, family, name, manufacturer, model,
	serial_number, hw_version, via_device_id, created_at, updated_at`

// GetDevice returns one device.
func (r *SQLiteRepository) GetDevice(ctx context.Context, profileID, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM registry_devices WHERE profile_id = ? AND id = ?`, profileID, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device %s: %w", id, err)
	}
	return d, nil
}

// ListDevices returns the devices of a profile ordered by id.
func (r *SQLiteRepository) ListDevices(ctx context.Context, profileID string) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM registry_devices WHERE profile_id = ? ORDER BY id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// DeleteDevice removes a device; its entities follow through the cascade.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, profileID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM registry_devices WHERE profile_id = ? AND id = ?`, profileID, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return expectOne(res)
}

// UpsertEntity creates or updates an entity.
func (r *SQLiteRepository) UpsertEntity(ctx context.Context, e Entity) error {
	if err := e.validate(); err != nil {
		return err
	}
	now := r.now().UTC().Format(timeFormat)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registry_entities (unique_id, profile_id, device_id, object_id, platform,
			key, name, enabled_default, category, unit, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, platform, unique_id) DO UPDATE SET
			device_id = excluded.device_id,
			object_id = excluded.object_id,
			key = excluded.key,
			name = excluded.name,
			enabled_default = excluded.enabled_default,
			category = excluded.category,
			unit = excluded.unit,
			updated_at = excluded.updated_at`,
		e.UniqueID, e.ProfileID, e.DeviceID, e.ObjectID, string(e.Platform),
		e.Key, e.Name, e.EnabledDefault, e.Category, e.Unit, now, now)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", e.UniqueID, err)
	}
	return nil
}

// ListEntities returns the entities of a profile ordered by device and key.
func (r *SQLiteRepository) ListEntities(ctx context.Context, profileID string) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT unique_id, profile_id, device_id, object_id, platform, key, name,
			enabled_default, category, unit, created_at, updated_at
		FROM registry_entities
		WHERE profile_id = ?
		ORDER BY device_id, platform, key`, profileID)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var platform, created, updated string
		if err := rows.Scan(&e.UniqueID, &e.ProfileID, &e.DeviceID, &e.ObjectID, &platform,
			&e.Key, &e.Name, &e.EnabledDefault, &e.Category, &e.Unit, &created, &updated); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.Platform = smartwater.Platform(platform)
		e.CreatedAt = parseTime(created)
		e.UpdatedAt = parseTime(updated)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

// DeleteEntity removes one entity.
func (r *SQLiteRepository) DeleteEntity(ctx context.Context, profileID string, platform smartwater.Platform, uniqueID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM registry_entities WHERE profile_id = ? AND platform = ? AND unique_id = ?`,
		profileID, string(platform), uniqueID)
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", uniqueID, err)
	}
	return expectOne(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var d Device
	var family, created, updated string
	if err := s.Scan(&d.ID, &d.ProfileID, &family, &d.Name, &d.Manufacturer, &d.Model,
		&d.SerialNumber, &d.HWVersion, &d.ViaDeviceID, &created, &updated); err != nil {
		return nil, err
	}
	d.Family = smartwater.Family(family)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s) //nolint:errcheck // written by this package
	return t
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
