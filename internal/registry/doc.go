// Package registry keeps the local record of devices and entities that were
// created for each profile.
//
// After a profile has loaded, its coordinator registers every gateway and
// device (name, manufacturer, model, serial, hardware version and parent
// gateway) together with the entities derived from their datapoints. The ids
// registered this way form the baseline against which new cloud devices are
// detected. Devices and entities that are no longer part of the profile are
// removed in a cleanup pass.
//
// Persistence goes through the Repository interface; SQLiteRepository stores
// the data in the registry_devices and registry_entities tables created by
// the migrations package. Removing a device cascades to its entities.
//
// Thread Safety:
//
// Registry methods are safe for concurrent use. Sync operations for one
// profile are serialised.
package registry
