package reconcile

import (
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Fetcher reads the topology of a profile. cloud.Client implements it.
type Fetcher interface {
	FetchGateways(ctx context.Context, profileID string) (map[string]map[string]any, error)
	FetchDevices(ctx context.Context, gatewayID string) (map[string]map[string]any, error)
}

// Result is the outcome of a refresh.
type Result struct {
	// Devices is the new set of gateways and devices.
	Devices smartwater.DeviceSet

	// Added and Removed list the ids that entered or left the set, sorted.
	Added   []string
	Removed []string
}

// Refresh fetches the gateways and devices of a profile and reconciles them
// with old.
//
// Parameters:
//   - ctx: Context for the cloud reads
//   - f: Source of gateways and devices
//   - profileID: Profile whose gateways are fetched
//   - old: Previous set; it is not modified
//
// Returns:
//   - Result: New set with the added and removed ids
//   - error: The first fetch failure; no partial result is returned
func Refresh(ctx context.Context, f Fetcher, profileID string, old smartwater.DeviceSet) (Result, error) {
	gateways, err := f.FetchGateways(ctx, profileID)
	if err != nil {
		return Result{}, err
	}

	set := old.Clone()
	ApplyGateways(set, profileID, gateways)

	for _, gatewayID := range set.Family(smartwater.FamilyGateway) {
		devices, err := f.FetchDevices(ctx, gatewayID)
		if err != nil {
			return Result{}, fmt.Errorf("gateway %s: %w", gatewayID, err)
		}
		ApplyGatewayDevices(set, gatewayID, devices)
	}

	added, removed := Diff(old, set)
	return Result{Devices: set, Added: added, Removed: removed}, nil
}

// ApplyGateways replaces the gateways of set with the fetched ones.
// Gateways missing from the fetch are removed, and so are devices whose
// parent gateway is not among the fetched ones. The new records carry the
// profile id in their context. It returns the removed ids, sorted.
func ApplyGateways(set smartwater.DeviceSet, profileID string, gateways map[string]map[string]any) []string {
	var removed []string
	for _, id := range set.Family(smartwater.FamilyGateway) {
		if _, ok := gateways[id]; !ok {
			delete(set, id)
			removed = append(removed, id)
		}
	}
	for _, id := range set.Family(smartwater.FamilyDevice) {
		if _, ok := gateways[set[id].GatewayID()]; !ok {
			delete(set, id)
			removed = append(removed, id)
		}
	}

	for id, payload := range gateways {
		set[id] = smartwater.NewRecord(smartwater.FamilyGateway, id, payload,
			map[string]any{smartwater.ContextProfileID: profileID})
	}
	slices.Sort(removed)
	return removed
}

// ApplyGatewayDevices replaces the devices of one gateway with the fetched
// ones. Devices of other gateways are left alone. The new records carry the
// gateway id in their context. It returns the removed ids, sorted.
func ApplyGatewayDevices(set smartwater.DeviceSet, gatewayID string, devices map[string]map[string]any) []string {
	var removed []string
	for _, id := range set.Family(smartwater.FamilyDevice) {
		if set[id].GatewayID() != gatewayID {
			continue
		}
		if _, ok := devices[id]; !ok {
			delete(set, id)
			removed = append(removed, id)
		}
	}

	for id, payload := range devices {
		set[id] = smartwater.NewRecord(smartwater.FamilyDevice, id, payload,
			map[string]any{smartwater.ContextGatewayID: gatewayID})
	}
	return removed
}

// Replace swaps the payload of a known gateway or device, keeping its
// context. Unknown ids are ignored and reported with false.
func Replace(set smartwater.DeviceSet, id string, payload map[string]any) bool {
	r, ok := set[id]
	if !ok {
		return false
	}
	set[id] = smartwater.NewRecord(r.Family(), id, payload, r.Context())
	return true
}

// Diff returns the ids only in next (added) and only in prev (removed),
// both sorted.
func Diff(prev, next smartwater.DeviceSet) (added, removed []string) {
	for id := range next {
		if _, ok := prev[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// NewIDs returns the ids of set that are not in baseline, sorted. A
// non-empty result is a topology change.
func NewIDs(baseline map[string]struct{}, set smartwater.DeviceSet) []string {
	var ids []string
	for id := range set {
		if _, ok := baseline[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Baseline returns the ids of set as a baseline for NewIDs.
func Baseline(set smartwater.DeviceSet) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}
