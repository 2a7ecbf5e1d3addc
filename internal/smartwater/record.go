package smartwater

import (
	"encoding/json"
	"maps"
	"slices"
)

// Record is an immutable snapshot of one cloud object.
//
// The payload is the object as received from the cloud. The context holds
// parent identifiers added by the fetch layer and is reachable from paths
// under the "context" key.
type Record struct {
	family  Family
	id      string
	name    string
	typ     string
	payload map[string]any
	context map[string]any
	root    map[string]any
}

// NewRecord builds a record and derives its name and type through the
// datapoint table. The payload and context maps must not be modified by
// the caller afterwards.
func NewRecord(family Family, id string, payload, context map[string]any) Record {
	r := Record{
		family:  family,
		id:      id,
		payload: payload,
		context: context,
	}

	r.root = payload
	if context != nil {
		r.root = make(map[string]any, len(payload)+1)
		maps.Copy(r.root, payload)
		r.root["context"] = context
	}

	// Type first: the family sub depends on it, name lookups do not.
	if v, ok := r.Value(KeyType); ok {
		r.typ = toString(v)
	}
	if v, ok := r.Value(KeyName); ok {
		r.name = toString(v)
	}
	return r
}

// Family returns the record family (pr, gw or d).
func (r Record) Family() Family { return r.family }

// ID returns the cloud identifier.
func (r Record) ID() string { return r.id }

// Type returns the payload type, or "".
func (r Record) Type() string { return r.typ }

// FamilySub returns family + "." + type, or the family when untyped.
func (r Record) FamilySub() string {
	if r.typ != "" {
		return string(r.family) + "." + r.typ
	}
	return string(r.family)
}

// Name returns the display name, falling back to the type and then the id.
func (r Record) Name() string {
	switch {
	case r.name != "":
		return r.name
	case r.typ != "":
		return r.typ
	default:
		return r.id
	}
}

// Payload returns the raw cloud payload. Callers must not modify it.
func (r Record) Payload() map[string]any { return r.payload }

// Context returns the parent context. Callers must not modify it.
func (r Record) Context() map[string]any { return r.context }

// IsZero reports whether the record was never populated.
func (r Record) IsZero() bool { return r.id == "" && r.payload == nil }

// Value resolves the raw value of a datapoint key. Absent values, unknown
// keys and malformed paths all yield (nil, false).
func (r Record) Value(key string) (any, bool) {
	dp, ok := Resolve(r.FamilySub(), key)
	if !ok {
		return nil, false
	}
	return evaluate(r.root, dp.Path)
}

// Formatted resolves a datapoint key and applies its format.
func (r Record) Formatted(key string) (any, bool) {
	dp, ok := Resolve(r.FamilySub(), key)
	if !ok {
		return nil, false
	}
	raw, ok := evaluate(r.root, dp.Path)
	if !ok {
		return nil, false
	}
	return dp.Convert(raw)
}

// Text resolves a key as a string, or "".
func (r Record) Text(key string) string {
	v, ok := r.Value(key)
	if !ok {
		return ""
	}
	return toString(v)
}

// Serial returns the serial number, falling back to the id.
func (r Record) Serial() string {
	if s := r.Text(KeySerial); s != "" {
		return s
	}
	return r.id
}

// Version returns the hardware or firmware version, or "".
func (r Record) Version() string { return r.Text(KeyVersion) }

// GatewayID returns the parent gateway of a device. The payload field wins
// over the context entry added when the device was fetched.
func (r Record) GatewayID() string {
	if s := r.Text(KeyGatewayID); s != "" {
		return s
	}
	if v, ok := r.context[ContextGatewayID].(string); ok {
		return v
	}
	return ""
}

// Snapshot is the JSON form of a Record used by the persisted cache and the
// diagnostics payload.
type Snapshot struct {
	Family    Family         `json:"family"`
	FamilySub string         `json:"family_sub"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type,omitempty"`
	Payload   map[string]any `json:"raw_payload"`
	Context   map[string]any `json:"context,omitempty"`
}

// Snapshot returns the serializable form of the record.
func (r Record) Snapshot() Snapshot {
	return Snapshot{
		Family:    r.family,
		FamilySub: r.FamilySub(),
		ID:        r.id,
		Name:      r.Name(),
		Type:      r.typ,
		Payload:   r.payload,
		Context:   r.context,
	}
}

// Record rebuilds the record. Derived fields are recomputed, not trusted.
func (s Snapshot) Record() Record {
	return NewRecord(s.Family, s.ID, s.Payload, s.Context)
}

// MarshalJSON encodes the record as its Snapshot.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}

// UnmarshalJSON decodes a Snapshot into the record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = s.Record()
	return nil
}

// DeviceSet maps record id to record for gateways and devices of one
// profile. A published DeviceSet is never modified; changes produce a new
// set via Clone.
type DeviceSet map[string]Record

// Clone returns a shallow copy safe to modify.
func (s DeviceSet) Clone() DeviceSet {
	out := make(DeviceSet, len(s))
	maps.Copy(out, s)
	return out
}

// IDs returns the record ids in sorted order.
func (s DeviceSet) IDs() []string {
	return slices.Sorted(maps.Keys(s))
}

// Family returns the ids of records of the given family in sorted order.
func (s DeviceSet) Family(f Family) []string {
	var ids []string
	for id, r := range s {
		if r.family == f {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Snapshots returns the serializable form of every record, keyed by id.
func (s DeviceSet) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot, len(s))
	for id, r := range s {
		out[id] = r.Snapshot()
	}
	return out
}

// DeviceSetFromSnapshots rebuilds a set from its serializable form.
func DeviceSetFromSnapshots(snaps map[string]Snapshot) DeviceSet {
	out := make(DeviceSet, len(snaps))
	for id, snap := range snaps {
		out[id] = snap.Record()
	}
	return out
}
