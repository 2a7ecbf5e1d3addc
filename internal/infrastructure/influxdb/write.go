package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the name datapoint history is written under.
const Measurement = "smartwater_datapoint"

// Datapoint is one entity value at a point in time.
type Datapoint struct {
	ProfileID string
	DeviceID  string
	Key       string
	Unit      string
	Value     float64
	Time      time.Time
}

// Point converts d to a line protocol point. The unit tag is omitted when
// empty.
func (d Datapoint) Point() *write.Point {
	tags := map[string]string{
		"profile": d.ProfileID,
		"device":  d.DeviceID,
		"key":     d.Key,
	}
	if d.Unit != "" {
		tags["unit"] = d.Unit
	}
	return write.NewPoint(Measurement, tags, map[string]any{"value": d.Value}, d.Time)
}

// WriteDatapoints queues points for the next batch. Points are dropped when
// the client is closed.
func (c *Client) WriteDatapoints(points ...Datapoint) {
	if !c.IsConnected() {
		return
	}
	for _, d := range points {
		c.writeAPI.WritePoint(d.Point())
	}
}
