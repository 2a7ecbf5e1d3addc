package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smartwater-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartwater-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartwater-core/internal/smartwater"
)

// Publisher projects the entity states of a profile somewhere.
type Publisher interface {
	Publish(ctx context.Context, profileID string, set smartwater.DeviceSet) error
}

// Publishers publishes to all of its members.
type Publishers []Publisher

// Publish calls every publisher and joins their errors.
func (ps Publishers) Publish(ctx context.Context, profileID string, set smartwater.DeviceSet) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, profileID, set); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RetainedPublisher is the part of the MQTT client the state publisher
// needs. *mqtt.Client implements it.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// StatePayload is the retained message of one entity.
type StatePayload struct {
	Value     any       `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTPublisher publishes entity states as retained messages under
// smartwater/state/<profile>/<device>/<key>. A value is only sent again
// when it changed.
type MQTTPublisher struct {
	client RetainedPublisher
	now    func() time.Time

	mu   sync.Mutex
	last map[string]string
}

// NewMQTTPublisher creates a state publisher.
func NewMQTTPublisher(client RetainedPublisher) *MQTTPublisher {
	return &MQTTPublisher{client: client, now: time.Now, last: make(map[string]string)}
}

// Publish sends the available states of set that changed since the
// previous call.
func (p *MQTTPublisher) Publish(_ context.Context, profileID string, set smartwater.DeviceSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.now().UTC()
	var errs []error
	for _, s := range smartwater.States(set) {
		if !s.Available {
			continue
		}
		topic := mqtt.Topics{}.EntityState(profileID, s.DeviceID, s.Key)

		value, err := json.Marshal(s.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s: %w", topic, err))
			continue
		}
		if p.last[topic] == string(value) {
			continue
		}

		payload, err := json.Marshal(StatePayload{Value: s.Value, Unit: s.Unit, Timestamp: ts})
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s: %w", topic, err))
			continue
		}
		if err := p.client.PublishRetained(topic, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		p.last[topic] = string(value)
	}
	return errors.Join(errs...)
}

// DatapointWriter is the part of the InfluxDB client the history
// publisher needs. *influxdb.Client implements it.
type DatapointWriter interface {
	WriteDatapoints(points ...influxdb.Datapoint)
}

// HistoryPublisher writes numeric and boolean entity values to InfluxDB.
// Text, enum and timestamp values are not recorded.
type HistoryPublisher struct {
	writer DatapointWriter
	now    func() time.Time
}

// NewHistoryPublisher creates a history publisher.
func NewHistoryPublisher(writer DatapointWriter) *HistoryPublisher {
	return &HistoryPublisher{writer: writer, now: time.Now}
}

// Publish queues one point per numeric value of set.
func (p *HistoryPublisher) Publish(_ context.Context, profileID string, set smartwater.DeviceSet) error {
	ts := p.now()
	var points []influxdb.Datapoint
	for _, s := range smartwater.States(set) {
		if !s.Available {
			continue
		}
		v, ok := numeric(s.Value)
		if !ok {
			continue
		}
		points = append(points, influxdb.Datapoint{
			ProfileID: profileID,
			DeviceID:  s.DeviceID,
			Key:       s.Key,
			Unit:      s.Unit,
			Value:     v,
			Time:      ts,
		})
	}
	if len(points) > 0 {
		p.writer.WriteDatapoints(points...)
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
