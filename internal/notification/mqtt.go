package notification

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sodav/monitor/internal/conf"
	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/logging"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQoS            = 1
)

// MQTTPublisher forwards events to an MQTT broker as JSON, one subtopic
// per event kind.
type MQTTPublisher struct {
	settings conf.MQTTSettings
	client   mqtt.Client
	log      *slog.Logger
}

// NewMQTTPublisher connects to the broker configured in settings. The
// client reconnects automatically after broker restarts.
func NewMQTTPublisher(settings *conf.Settings) (*MQTTPublisher, error) {
	cfg := settings.Notification.MQTT

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", settings.Main.Name, uuid.New().String()[:8]))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	p := &MQTTPublisher{
		settings: cfg,
		client:   mqtt.NewClient(opts),
		log:      logging.ForService("mqtt"),
	}

	token := p.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) || token.Error() != nil {
		return nil, errors.New(fmt.Errorf("connecting to broker: %w", tokenErr(token))).
			Component("notification").
			Category(errors.CategoryMQTT).
			Context("broker", cfg.Broker).
			Build()
	}

	p.log.Info("connected to mqtt broker", "broker", cfg.Broker, "topic", cfg.Topic)
	return p, nil
}

func tokenErr(token mqtt.Token) error {
	if err := token.Error(); err != nil {
		return err
	}
	return errors.NewStd("timeout")
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

// Notify publishes the event under <topic>/<kind>. Publish failures are
// logged and dropped; the bus guarantees they never stall the pipeline.
func (p *MQTTPublisher) Notify(ev events.Event) {
	payload, err := json.Marshal(map[string]any{
		"kind":      ev.Kind,
		"timestamp": ev.Timestamp.UTC().Format(time.RFC3339),
		"station":   ev.Station,
		"data":      ev.Payload,
	})
	if err != nil {
		p.log.Error("marshaling event", "kind", ev.Kind, "error", err)
		return
	}

	topic := fmt.Sprintf("%s/%s", p.settings.Topic, ev.Kind)
	token := p.client.Publish(topic, mqttQoS, p.settings.Retain, payload)
	if !token.WaitTimeout(mqttPublishTimeout) || token.Error() != nil {
		p.log.Warn("publishing event failed", "topic", topic, "error", tokenErr(token))
	}
}

// Close disconnects from the broker, allowing in-flight messages a short
// drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(uint(mqttPublishTimeout.Milliseconds()))
}
