// Package reconcile keeps a profile's DeviceSet consistent with the cloud.
//
// A refresh walks the topology top down:
//
//  1. Fetch the gateways of the profile. Gateways that disappeared are
//     removed, together with every device whose parent gateway is gone.
//  2. Merge the fetched gateways, replacing records wholesale.
//  3. For each gateway, fetch its devices, remove the gateway's devices that
//     disappeared and merge the fetched ones.
//
// Refresh never modifies the set it is given. It works on a copy and only
// returns it when every step succeeded, so a failed refresh leaves the
// previously published set untouched.
//
// Topology changes (ids never seen before) are detected separately with
// NewIDs against a baseline, and rate limited with a ReloadTracker whose
// delay doubles with every reload.
package reconcile
