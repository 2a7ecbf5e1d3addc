package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/smartwater-core/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	tlsMinVersion            = tls.VersionTLS12
)

// Option customises a Client.
type Option func(*Client)

// WithoutStatus disables the status messages and the Last Will. Use it for
// brokers the client does not own, such as the cloud push broker.
func WithoutStatus() Option {
	return func(c *Client) { c.status = false }
}

// WithLogger sets the logger before the connection is opened, so the first
// connect is logged too.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.setLogger(logger) }
}

// clientID returns the configured client id, or "smartwater-" plus a random
// suffix when none is configured. Brokers drop the older of two sessions
// with the same id, so generated ids must be unique per process.
func clientID(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return "smartwater-" + uuid.NewString()[:8]
}

// buildClientOptions creates paho options from the broker config.
func buildClientOptions(cfg config.MQTTConfig, id string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(id)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if d := cfg.Reconnect.InitialDelay; d > 0 {
		opts.SetConnectRetryInterval(time.Duration(d) * time.Second)
	}
	if d := cfg.Reconnect.MaxDelay; d > 0 {
		opts.SetMaxReconnectInterval(time.Duration(d) * time.Second)
	}

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// statusMessage is the payload of the per-client status topic.
type statusMessage struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// statusPayload encodes a status message stamped with the current time.
func statusPayload(status, id, reason string) []byte {
	raw, _ := json.Marshal(statusMessage{ //nolint:errchkjson // plain strings always encode
		Status:    status,
		ClientID:  id,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return raw
}

// configureLWT registers the message the broker publishes when the client
// disappears without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, id string) {
	opts.SetBinaryWill(Topics{}.SystemStatus(id), statusPayload("offline", id, "unexpected_disconnect"), 1, true)
}
