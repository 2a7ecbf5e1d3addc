package mqtt

import "strings"

// Topic prefixes.
const (
	// TopicPrefix is the root of all topics published on the local broker.
	TopicPrefix = "smartwater"

	// TopicPrefixPush is the root of push topics on the cloud broker.
	TopicPrefixPush = "push"
)

// Topics builds the topics used by Smart Water Core.
//
//	topics := mqtt.Topics{}
//	topics.EntityState("p-1", "dev-1", "water_level")
//	// Returns: "smartwater/state/p-1/dev-1/water_level"
type Topics struct{}

// EntityState returns the retained state topic of one entity.
//
// Example: smartwater/state/p-1/dev-1/water_level
func (Topics) EntityState(profileID, deviceID, key string) string {
	return join(TopicPrefix, "state", profileID, deviceID, key)
}

// ProfileStates returns a filter matching every entity state of a profile.
//
// Example: smartwater/state/p-1/#
func (Topics) ProfileStates(profileID string) string {
	return join(TopicPrefix, "state", profileID) + "/#"
}

// SystemStatus returns the status topic of one client.
//
// Example: smartwater/system/status/smartwater-core
func (Topics) SystemStatus(clientID string) string {
	return join(TopicPrefix, "system", "status", clientID)
}

// PushProfile returns the push topic of a profile.
//
// Example: push/profiles/p-1
func (Topics) PushProfile(profileID string) string {
	return join(TopicPrefixPush, "profiles", profileID)
}

// PushGateway returns the push topic of a gateway.
//
// Example: push/gateways/gw-1
func (Topics) PushGateway(gatewayID string) string {
	return join(TopicPrefixPush, "gateways", gatewayID)
}

// PushDevice returns the push topic of a device.
//
// Example: push/devices/dev-1
func (Topics) PushDevice(deviceID string) string {
	return join(TopicPrefixPush, "devices", deviceID)
}

// LastSegment returns the part of a topic after the final slash.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// join builds a topic from levels. Characters with a meaning in MQTT
// filters are replaced so ids can never widen a subscription.
func join(levels ...string) string {
	for i, l := range levels {
		levels[i] = levelReplacer.Replace(l)
	}
	return strings.Join(levels, "/")
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// validTopic reports whether a topic can be published to: non-empty and
// free of wildcards.
func validTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
