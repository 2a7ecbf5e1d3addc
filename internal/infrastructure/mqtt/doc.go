// Package mqtt provides MQTT connectivity for Smart Water Core.
//
// Two connections use this package:
//   - the local broker, where entity states are published as retained
//     messages for dashboards and home automation systems
//   - the Smart Water cloud broker, where push notifications for profiles,
//     gateways and devices are received
//
// Both connections reconnect automatically and restore their subscriptions.
// The local connection also publishes an online/offline status message per
// client, backed by a Last Will and Testament so crashes are visible. The
// cloud connection disables status publishing with WithoutStatus.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.EntityState("p-1", "dev-1", "water_level")
//	err = client.PublishRetained(topic, []byte(`{"value":50}`))
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Message handlers run on
// paho's goroutines; they must return quickly.
package mqtt
