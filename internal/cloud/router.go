package cloud

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/smartwater-core/internal/infrastructure/mqtt"
)

// PushRouter shares one push broker connection between subscribers.
//
// Several profiles can follow the same gateway, so a topic may be held by
// more than one subscriber. The broker subscription lives while at least
// one holder remains, and every message is delivered to all holders.
type PushRouter struct {
	sub    Subscriber
	qos    byte
	logger Logger

	// opMu serializes broker subscribe and unsubscribe calls. mu only
	// guards the holder table and is never held across broker calls.
	opMu sync.Mutex

	mu      sync.Mutex
	holders map[string]map[uint64]mqtt.MessageHandler
	nextID  uint64
}

// NewPushRouter creates a router on top of an MQTT connection.
func NewPushRouter(sub Subscriber, qos byte) *PushRouter {
	return &PushRouter{
		sub:     sub,
		qos:     qos,
		logger:  noopLogger{},
		holders: make(map[string]map[uint64]mqtt.MessageHandler),
	}
}

// SetLogger sets the logger for the router.
func (r *PushRouter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// newHolder returns an id identifying one subscriber.
func (r *PushRouter) newHolder() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// subscribe adds a holder to topic. The broker is only contacted for the
// first holder.
func (r *PushRouter) subscribe(topic string, holder uint64, handler mqtt.MessageHandler) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if hs, ok := r.holders[topic]; ok {
		hs[holder] = handler
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.sub.Subscribe(topic, r.qos, r.dispatch(topic)); err != nil {
		return err
	}

	r.mu.Lock()
	r.holders[topic] = map[uint64]mqtt.MessageHandler{holder: handler}
	r.mu.Unlock()
	r.logger.Debug("push topic subscribed", "topic", topic)
	return nil
}

// unsubscribe removes a holder from topic. The broker subscription is
// dropped with the last holder.
func (r *PushRouter) unsubscribe(topic string, holder uint64) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	hs, ok := r.holders[topic]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(hs, holder)
	if len(hs) > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.holders, topic)
	r.mu.Unlock()

	if err := r.sub.Unsubscribe(topic); err != nil {
		return err
	}
	r.logger.Debug("push topic unsubscribed", "topic", topic)
	return nil
}

// dispatch fans a message out to every holder of topic.
func (r *PushRouter) dispatch(topic string) mqtt.MessageHandler {
	return func(received string, payload []byte) error {
		r.mu.Lock()
		handlers := make([]mqtt.MessageHandler, 0, len(r.holders[topic]))
		for _, h := range r.holders[topic] {
			handlers = append(handlers, h)
		}
		r.mu.Unlock()

		var errs []error
		for _, h := range handlers {
			if err := h(received, payload); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("dispatching %s: %w", topic, err)
		}
		return nil
	}
}

// Holders returns the number of subscribers holding topic.
func (r *PushRouter) Holders(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders[topic])
}

// Topics returns the number of topics subscribed on the broker.
func (r *PushRouter) Topics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
