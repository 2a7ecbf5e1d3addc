package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/smartwater-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Subscriber is the part of the MQTT client the push channel needs.
// *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// PushHandler receives one pushed object. It is called on the MQTT
// client's goroutine and must not block.
type PushHandler func(family smartwater.Family, id string, payload map[string]any)

// PushSubscriber routes cloud push notifications for profiles, gateways and
// devices to handlers. Each object has its own topic; the payload is the
// full JSON object.
//
// Subscribers of several profiles share one PushRouter; each only releases
// the topics it holds itself.
type PushSubscriber struct {
	router *PushRouter
	holder uint64
	logger Logger

	mu     sync.Mutex
	topics map[string]smartwater.Family
}

// NewPushSubscriber creates a subscriber on a shared router.
func NewPushSubscriber(router *PushRouter) *PushSubscriber {
	return &PushSubscriber{
		router: router,
		holder: router.newHolder(),
		logger: noopLogger{},
		topics: make(map[string]smartwater.Family),
	}
}

// SetLogger sets the logger for the subscriber.
func (p *PushSubscriber) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// OnProfile subscribes to pushes of a profile.
func (p *PushSubscriber) OnProfile(profileID string, cb PushHandler) error {
	return p.subscribe(mqtt.Topics{}.PushProfile(profileID), smartwater.FamilyProfile, profileID, cb)
}

// OnGateway subscribes to pushes of a gateway.
func (p *PushSubscriber) OnGateway(gatewayID string, cb PushHandler) error {
	return p.subscribe(mqtt.Topics{}.PushGateway(gatewayID), smartwater.FamilyGateway, gatewayID, cb)
}

// OnDevice subscribes to pushes of a device.
func (p *PushSubscriber) OnDevice(deviceID string, cb PushHandler) error {
	return p.subscribe(mqtt.Topics{}.PushDevice(deviceID), smartwater.FamilyDevice, deviceID, cb)
}

func (p *PushSubscriber) subscribe(topic string, family smartwater.Family, id string, cb PushHandler) error {
	handler := func(_ string, payload []byte) error {
		var obj map[string]any
		if err := json.Unmarshal(payload, &obj); err != nil {
			return fmt.Errorf("decoding push for %s %s: %w", family, id, err)
		}
		if obj == nil {
			return fmt.Errorf("decoding push for %s %s: %w: not an object", family, id, ErrResponse)
		}
		cb(family, id, obj)
		return nil
	}
	if err := p.router.subscribe(topic, p.holder, handler); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	p.mu.Lock()
	p.topics[topic] = family
	p.mu.Unlock()
	return nil
}

// Sync makes the subscriptions match one profile and its current gateways
// and devices. Topics of objects that disappeared are unsubscribed.
// All failures are collected; the remaining topics are still processed.
func (p *PushSubscriber) Sync(profileID string, set smartwater.DeviceSet, cb PushHandler) error {
	want := map[string]func() error{
		mqtt.Topics{}.PushProfile(profileID): func() error { return p.OnProfile(profileID, cb) },
	}
	for _, id := range set.Family(smartwater.FamilyGateway) {
		want[mqtt.Topics{}.PushGateway(id)] = func() error { return p.OnGateway(id, cb) }
	}
	for _, id := range set.Family(smartwater.FamilyDevice) {
		want[mqtt.Topics{}.PushDevice(id)] = func() error { return p.OnDevice(id, cb) }
	}

	p.mu.Lock()
	var stale []string
	for topic := range p.topics {
		if _, ok := want[topic]; !ok {
			stale = append(stale, topic)
		}
	}
	have := make(map[string]bool, len(p.topics))
	for topic := range p.topics {
		have[topic] = true
	}
	p.mu.Unlock()

	var errs []error
	for _, topic := range stale {
		if err := p.unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	for topic, subscribe := range want {
		if have[topic] {
			continue
		}
		if err := subscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(stale) > 0 || len(errs) > 0 {
		p.logger.Debug("push subscriptions synced", "profile_id", profileID,
			"removed", len(stale), "topics", len(want), "errors", len(errs))
	}
	return errors.Join(errs...)
}

// Close unsubscribes every topic.
func (p *PushSubscriber) Close() error {
	p.mu.Lock()
	topics := make([]string, 0, len(p.topics))
	for topic := range p.topics {
		topics = append(topics, topic)
	}
	p.mu.Unlock()

	var errs []error
	for _, topic := range topics {
		if err := p.unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Topics returns the number of subscribed topics.
func (p *PushSubscriber) Topics() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

func (p *PushSubscriber) unsubscribe(topic string) error {
	p.mu.Lock()
	delete(p.topics, topic)
	p.mu.Unlock()
	if err := p.router.unsubscribe(topic, p.holder); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", topic, err)
	}
	return nil
}
