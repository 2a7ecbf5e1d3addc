// Package smartwater holds the Smart Water device snapshot model.
//
// A Record is an immutable snapshot of one cloud object (profile, gateway
// or device) together with its parent context. Values are never read from
// the raw payload directly; they are resolved through the ordered
// Datapoints table, which maps a (family, key) pair onto a path inside the
// payload, a value format and optional enumeration labels.
//
// # Families
//
//	pr       profile (the account view)
//	gw       gateway
//	d        device; the payload type refines it to d.tank or d.pump
//
// The family sub of a record is family + "." + type when the payload has a
// type, so a tank reports "d.tank" and matches datapoints declared for both
// "d" and "d.tank".
//
// # Resolution
//
// Resolution never fails loudly: a missing path, a type mismatch or an
// unknown key all resolve to (nil, false). Compiled paths are memoized in a
// bounded otter cache shared by all records.
//
// Thread Safety:
//   - Records and DeviceSets are immutable once published and safe to share.
package smartwater
