// Package store persists the Smart Water cache to disk.
//
// A Store is a small JSON document of named items, kept in memory and
// written to <dir>/smartwater.<key>. Reads are memoized: the file is read
// at most once per process. Writes are coalesced: without force, a write
// only happens when there is data, something changed since the previous
// write, and the write period has elapsed. Errors never escape; a broken
// file is logged and treated as empty, a failed write is logged and retried
// after the next write period.
//
// # File Format
//
//	{
//	  "version": 3,
//	  "minor_version": 0,
//	  "key": "smartwater.cache",
//	  "data": { "profile <id>": {...}, "devices <id>": {...} }
//	}
//
// Files written by an older major version are migrated on read. Files from
// a newer major version are ignored.
//
// # Sharing
//
// Every store key maps to exactly one Store per Registry. The Registry is
// owned by the application and handed to every component that persists
// data, so coordinators that share a key also share the in-memory document.
//
// Thread Safety:
//   - All Store and Registry methods are safe for concurrent use.
//   - File I/O of one store is serialized.
package store
