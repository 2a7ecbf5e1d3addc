package smartwater

import (
	"regexp"
	"strings"
)

// IDPrefix is prepended to entity unique ids and object ids.
const IDPrefix = "smartwater"

// EntityPlatforms lists the platforms entities are created for.
var EntityPlatforms = []Platform{PlatformSensor, PlatformBinarySensor}

// Entity describes one exposed value of a device.
type Entity struct {
	UniqueID       string   `json:"unique_id"`
	ObjectID       string   `json:"object_id"`
	DeviceID       string   `json:"device_id"`
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	Platform       Platform `json:"platform"`
	EnabledDefault bool     `json:"enabled_default"`
	Category       string   `json:"category,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	Format         Format   `json:"format"`
}

// EntityState is an entity together with its current value. Value is nil
// when the datapoint is absent from the payload.
type EntityState struct {
	Entity
	Value     any  `json:"value"`
	Available bool `json:"available"`
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// CreateID joins parts with underscores, turns spaces into underscores,
// lowercases and strips characters outside [a-z0-9_-].
func CreateID(parts ...string) string {
	s := strings.Trim(strings.Join(parts, "_"), "_")
	s = strings.ReplaceAll(s, " ", "_")
	return invalidIDChars.ReplaceAllString(strings.ToLower(s), "")
}

// Entities returns the entities of a record across all entity platforms.
// Unique ids are built from the device name, object ids from the cloud id.
func Entities(r Record) []Entity {
	var out []Entity
	for _, pf := range EntityPlatforms {
		for _, dp := range ForPlatform(r.FamilySub(), pf) {
			out = append(out, Entity{
				UniqueID:       CreateID(IDPrefix, r.Name(), dp.Key),
				ObjectID:       CreateID(IDPrefix, r.ID(), dp.Key),
				DeviceID:       r.ID(),
				Key:            dp.Key,
				Name:           dp.Name,
				Platform:       pf,
				EnabledDefault: dp.EnabledDefault(),
				Category:       dp.Category(),
				Unit:           dp.Unit,
				Format:         dp.Format,
			})
		}
	}
	return out
}

// States resolves the current value of every entity of the set.
func States(set DeviceSet) []EntityState {
	var out []EntityState
	for _, id := range set.IDs() {
		r := set[id]
		for _, e := range Entities(r) {
			v, ok := r.Formatted(e.Key)
			out = append(out, EntityState{Entity: e, Value: v, Available: ok})
		}
	}
	return out
}
