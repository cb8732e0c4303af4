package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds MQTT transport configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// MQTTBus carries device operations over an MQTT broker. Requests go to
// <prefix>/request; each client receives its resolutions on
// <prefix>/reply/<clientID> and pushed device events on <prefix>/events.
type MQTTBus struct {
	client   pahomqtt.Client
	prefix   string
	clientID string
	logger   *slog.Logger

	handlerMu    sync.RWMutex
	onResolution func(Resolution)
	onAdded      func(DeviceEvent)
	onRemoved    func(DeviceEvent)
	onProperty   func(PropertyEvent)
}

// NewMQTTBus creates an MQTT-backed bus. The bus does not talk to the
// broker until Connect is called, so all On* handlers can be registered
// first without missing early events.
func NewMQTTBus(cfg Config, logger *slog.Logger) (*MQTTBus, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("mqtt bus: client id is required")
	}
	b := &MQTTBus{
		prefix:   cfg.TopicPrefix,
		clientID: cfg.ClientID,
		logger:   logger.With("component", "mqtt-bus"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.subscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	return b, nil
}

// Connect dials the broker and subscribes to the reply and event
// topics. Call it after every event handler has been registered.
func (b *MQTTBus) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (b *MQTTBus) replyTopic() string {
	return b.prefix + "/reply/" + b.clientID
}

func (b *MQTTBus) subscribe() {
	if token := b.client.Subscribe(b.replyTopic(), 1, b.handleReply); token.Wait() && token.Error() != nil {
		b.logger.Error("subscribe replies", "err", token.Error())
	}
	if token := b.client.Subscribe(b.prefix+"/events", 1, b.handleEvent); token.Wait() && token.Error() != nil {
		b.logger.Error("subscribe events", "err", token.Error())
	}
}

// Send publishes one operation request. The reply arrives later on the
// reply topic and is routed to the resolution handler.
func (b *MQTTBus) Send(req Request) error {
	payload, err := marshalRequest(req, b.replyTopic())
	if err != nil {
		return fmt.Errorf("mqtt bus: %w", err)
	}
	token := b.client.Publish(b.prefix+"/request", 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt bus: publish timeout for call %d", req.CallID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt bus: publish call %d: %w", req.CallID, err)
	}
	return nil
}

func (b *MQTTBus) handleReply(_ pahomqtt.Client, msg pahomqtt.Message) {
	res, err := unmarshalResolution(msg.Payload())
	if err != nil {
		b.logger.Warn("bad resolution payload", "topic", msg.Topic(), "err", err)
		return
	}
	b.handlerMu.RLock()
	handler := b.onResolution
	b.handlerMu.RUnlock()
	if handler != nil {
		handler(res)
	}
}

func (b *MQTTBus) handleEvent(_ pahomqtt.Client, msg pahomqtt.Message) {
	evt, err := unmarshalEvent(msg.Payload())
	if err != nil {
		b.logger.Warn("bad event payload", "topic", msg.Topic(), "err", err)
		return
	}

	b.handlerMu.RLock()
	onAdded, onRemoved, onProperty := b.onAdded, b.onRemoved, b.onProperty
	b.handlerMu.RUnlock()

	switch evt.Event {
	case wireEventAdded:
		if onAdded != nil {
			onAdded(DeviceEvent{DevicePath: evt.DevicePath, Type: evt.Type, Name: evt.Name})
		}
	case wireEventRemoved:
		if onRemoved != nil {
			onRemoved(DeviceEvent{DevicePath: evt.DevicePath, Type: evt.Type, Name: evt.Name})
		}
	case wireEventProperty:
		if onProperty == nil {
			return
		}
		var value any
		if evt.Value != nil {
			v, err := decodeValue(*evt.Value)
			if err != nil {
				b.logger.Warn("bad property event value", "device", evt.DevicePath, "property", evt.Property, "err", err)
				return
			}
			value = v
		}
		onProperty(PropertyEvent{DevicePath: evt.DevicePath, Property: evt.Property, Value: value})
	default:
		b.logger.Debug("unknown bus event", "event", evt.Event)
	}
}

func (b *MQTTBus) OnResolution(handler func(Resolution)) {
	b.handlerMu.Lock()
	b.onResolution = handler
	b.handlerMu.Unlock()
}

func (b *MQTTBus) OnDeviceAdded(handler func(DeviceEvent)) {
	b.handlerMu.Lock()
	b.onAdded = handler
	b.handlerMu.Unlock()
}

func (b *MQTTBus) OnDeviceRemoved(handler func(DeviceEvent)) {
	b.handlerMu.Lock()
	b.onRemoved = handler
	b.handlerMu.Unlock()
}

func (b *MQTTBus) OnPropertyChanged(handler func(PropertyEvent)) {
	b.handlerMu.Lock()
	b.onProperty = handler
	b.handlerMu.Unlock()
}

// Close disconnects from the broker. Pending publishes are given a
// short grace period to flush.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}
