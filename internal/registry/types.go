package registry

import (
	"fmt"
	"time"

	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Device is a registered gateway or device of a profile.
type Device struct {
	ID           string            `json:"id"`
	ProfileID    string            `json:"profile_id"`
	Family       smartwater.Family `json:"family"`
	Name         string            `json:"name"`
	Manufacturer string            `json:"manufacturer"`
	Model        string            `json:"model,omitempty"`
	SerialNumber string            `json:"serial_number,omitempty"`
	HWVersion    string            `json:"hw_version,omitempty"`
	ViaDeviceID  string            `json:"via_device_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Entity is a registered entity of a device.
type Entity struct {
	UniqueID       string              `json:"unique_id"`
	ProfileID      string              `json:"profile_id"`
	DeviceID       string              `json:"device_id"`
	ObjectID       string              `json:"object_id"`
	Platform       smartwater.Platform `json:"platform"`
	Key            string              `json:"key"`
	Name           string              `json:"name"`
	EnabledDefault bool                `json:"enabled_default"`
	Category       string              `json:"category,omitempty"`
	Unit           string              `json:"unit,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// DeviceFromRecord describes a record the way it is registered.
func DeviceFromRecord(profileID string, r smartwater.Record) Device {
	return Device{
		ID:           r.ID(),
		ProfileID:    profileID,
		Family:       r.Family(),
		Name:         r.Name(),
		Manufacturer: smartwater.Manufacturer,
		Model:        r.Type(),
		SerialNumber: r.Serial(),
		HWVersion:    r.Version(),
		ViaDeviceID:  r.GatewayID(),
	}
}

// EntityFromDescriptor turns an entity descriptor into a registry entry.
func EntityFromDescriptor(profileID string, e smartwater.Entity) Entity {
	return Entity{
		UniqueID:       e.UniqueID,
		ProfileID:      profileID,
		DeviceID:       e.DeviceID,
		ObjectID:       e.ObjectID,
		Platform:       e.Platform,
		Key:            e.Key,
		Name:           e.Name,
		EnabledDefault: e.EnabledDefault,
		Category:       e.Category,
		Unit:           e.Unit,
	}
}

// EntityKey identifies an entity within a profile. Unique ids are only
// unique per platform.
func EntityKey(platform smartwater.Platform, uniqueID string) string {
	return fmt.Sprintf("%s:%s", platform, uniqueID)
}

func (d Device) validate() error {
	if d.ID == "" || d.ProfileID == "" {
		return fmt.Errorf("%w: device needs id and profile", ErrInvalid)
	}
	return nil
}

func (e Entity) validate() error {
	if e.UniqueID == "" || e.ProfileID == "" || e.DeviceID == "" {
		return fmt.Errorf("%w: entity needs unique id, profile and device", ErrInvalid)
	}
	return nil
}
