// Package mqttpub republishes rig properties to an MQTT broker and accepts
// writes on <prefix>/<name>/set.
package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/roffe/gorig"
	"go.uber.org/zap"
)

const (
	DefaultPrefix  = "gorig"
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	quiesce        = 500 // milliseconds
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

type Config struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
	QoS      byte   `mapstructure:"qos"`
}

type Publisher struct {
	cfg    Config
	rig    gorig.Rig
	log    *zap.Logger
	client pahomqtt.Client

	mu  sync.Mutex
	ids map[string]gorig.CallbackID
}

// Payload is the JSON document carried by every state and set topic.
type Payload struct {
	Value any `json:"value"`
}

// Connect dials the broker, retrying a few times before giving up.
func Connect(ctx context.Context, cfg Config, rig gorig.Rig, log *zap.Logger) (*Publisher, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gorig"
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		cfg: cfg,
		rig: rig,
		log: log.Named("mqtt"),
		ids: make(map[string]gorig.CallbackID),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(p.statusTopic(), "offline", 1, true)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(p.statusTopic(), 1, true, "online")
		c.Subscribe(p.topic("+", "set"), cfg.QoS, p.handleSet)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.log.Warn("connection lost", zap.Error(err))
	})
	p.client = pahomqtt.NewClient(opts)

	err := retry.Do(func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(connectTimeout) {
			return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.OnRetry(func(n uint, err error) {
			p.log.Warn("connect retry", zap.Uint("attempt", n+1), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	p.log.Info("connected", zap.String("broker", cfg.Broker))
	return p, nil
}

func (p *Publisher) topic(parts ...string) string {
	return p.cfg.Prefix + "/" + strings.Join(parts, "/")
}

func (p *Publisher) statusTopic() string { return p.topic("status") }

// Watch publishes the current value of every name and each later change.
// Composites must be given as their views.
func (p *Publisher) Watch(ctx context.Context, names ...string) error {
	for _, name := range names {
		name := name
		id, err := p.rig.AddModifyCallback(name, func(v any) { p.publish(name, v) })
		if err != nil {
			return fmt.Errorf("watch %s: %w", name, err)
		}
		p.mu.Lock()
		p.ids[name] = id
		p.mu.Unlock()
		if v, err := p.rig.Read(ctx, name); err == nil && v != nil {
			p.publish(name, v)
		}
	}
	return nil
}

func (p *Publisher) publish(name string, v any) {
	b, err := Encode(v)
	if err != nil {
		p.log.Warn("encode", zap.String("name", name), zap.Error(err))
		return
	}
	token := p.client.Publish(p.topic(name), p.cfg.QoS, true, b)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn("publish timeout", zap.String("name", name))
		} else if err := token.Error(); err != nil {
			p.log.Warn("publish", zap.String("name", name), zap.Error(err))
		}
	}()
}

func (p *Publisher) handleSet(_ pahomqtt.Client, msg pahomqtt.Message) {
	name, ok := SetTarget(p.cfg.Prefix, msg.Topic())
	if !ok {
		return
	}
	v, err := Decode(msg.Payload())
	if err != nil {
		p.log.Warn("bad set payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	if err := p.rig.Write(name, v); err != nil {
		p.log.Warn("write", zap.String("name", name), zap.Error(err))
	}
}

// Close unregisters the callbacks, marks the rig offline and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for name, id := range p.ids {
		p.rig.RemoveModifyCallback(name, id)
	}
	p.ids = make(map[string]gorig.CallbackID)
	p.mu.Unlock()
	if p.client.IsConnected() {
		p.client.Publish(p.statusTopic(), 1, true, "offline").WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(quiesce)
	return nil
}

// SetTarget extracts the property name from a <prefix>/<name>/set topic.
func SetTarget(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Encode marshals a property value. Composite values become JSON arrays.
func Encode(v any) ([]byte, error) {
	return json.Marshal(Payload{Value: v})
}

// Decode accepts either {"value": x} or a bare JSON value. Integral numbers
// are returned as int, lists as []any.
func Decode(b []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if m, ok := raw.(map[string]any); ok {
		v, found := m["value"]
		if !found {
			return nil, errors.New(`missing "value"`)
		}
		raw = v
	}
	return normalize(raw), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < math.MaxInt32 {
			return int(t)
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}
