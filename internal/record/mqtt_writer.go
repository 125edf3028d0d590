package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"dronetrack-rl/internal/telemetry"
)

// publisher is the subset of mqtt.Client used by MQTTWriter.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTWriter publishes episode summaries, and optionally steps, as JSON to
// an MQTT broker under <prefix>/<run_id>/episodes and .../steps.
type MQTTWriter struct {
	client    publisher
	prefix    string
	withSteps bool
	timeout   time.Duration

	mu        sync.Mutex
	published uint64
	errors    uint64
}

// MQTTStats counts publish outcomes.
type MQTTStats struct {
	Published uint64
	Errors    uint64
}

// NewMQTTWriter connects to broker (host:port) and returns a writer
// publishing under prefix.
func NewMQTTWriter(ctx context.Context, broker, clientID, prefix string, withSteps bool) (*MQTTWriter, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "error", err, "broker", broker)
	}

	client := mqtt.NewClient(opts)
	if err := connect(ctx, client, 5*time.Second); err != nil {
		return nil, nil, err
	}
	return newMQTTWriter(client, prefix, withSteps), client, nil
}

// connector is the subset of mqtt.Client used while connecting.
type connector interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
}

// connect waits for the broker. On failure the client is disconnected,
// which also stops its background connect retries.
func connect(ctx context.Context, c connector, timeout time.Duration) error {
	token := c.Connect()
	var err error
	select {
	case <-token.Done():
		if terr := token.Error(); terr != nil {
			err = fmt.Errorf("mqtt connection failed: %w", terr)
		}
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(timeout):
		err = fmt.Errorf("mqtt connection timeout")
	}
	if err != nil {
		c.Disconnect(0)
	}
	return err
}

func newMQTTWriter(p publisher, prefix string, withSteps bool) *MQTTWriter {
	return &MQTTWriter{client: p, prefix: prefix, withSteps: withSteps, timeout: 2 * time.Second}
}

// WriteStep publishes a step row when step publishing is enabled.
func (w *MQTTWriter) WriteStep(row telemetry.StepRow) error {
	if !w.withSteps {
		return nil
	}
	return w.publish(fmt.Sprintf("%s/%s/steps", w.prefix, row.RunID), 0, row)
}

// WriteEpisode publishes an episode summary with QoS 1.
func (w *MQTTWriter) WriteEpisode(row telemetry.EpisodeRow) error {
	return w.publish(fmt.Sprintf("%s/%s/episodes", w.prefix, row.RunID), 1, row)
}

func (w *MQTTWriter) publish(topic string, qos byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		w.fail()
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	token := w.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(w.timeout) {
		w.fail()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		w.fail()
		return fmt.Errorf("publish failed: %w", err)
	}

	w.mu.Lock()
	w.published++
	w.mu.Unlock()
	slog.Debug("row published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

func (w *MQTTWriter) fail() {
	w.mu.Lock()
	w.errors++
	w.mu.Unlock()
}

// Stats returns publish counters.
func (w *MQTTWriter) Stats() MQTTStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return MQTTStats{Published: w.published, Errors: w.errors}
}
