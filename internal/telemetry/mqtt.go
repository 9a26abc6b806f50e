package telemetry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	"github.com/taoyao-code/wiperlink/internal/protocol/wire"
)

// ErrPublishTimeout broker 未在时限内确认
var ErrPublishTimeout = errors.New("telemetry: publish timeout")

// StatusMessage 状态镜像消息
type StatusMessage struct {
	Node           string    `json:"node"`
	Operational    bool      `json:"operational"`
	Speed          string    `json:"speed"`
	Position       uint8     `json:"position"`
	Mode           string    `json:"mode"`
	ConsumedPower  uint8     `json:"consumed_power"`
	Blocked        bool      `json:"blocked"`
	BlockageReason uint8     `json:"blockage_reason"`
	HWError        bool      `json:"hw_error"`
	Frame          string    `json:"frame"` // 8 字节状态载荷（hex）
	At             time.Time `json:"at"`
}

// NewStatusMessage 状态帧转镜像消息
func NewStatusMessage(node string, st wire.Status, at time.Time) StatusMessage {
	speed := "stopped"
	if st.Speed != wire.SpeedUnset {
		speed = st.Speed.String()
	}
	return StatusMessage{
		Node:           node,
		Operational:    st.Operational,
		Speed:          speed,
		Position:       st.Position,
		Mode:           st.Mode.String(),
		ConsumedPower:  st.ConsumedPower,
		Blocked:        st.Blocked,
		BlockageReason: st.BlockageReason,
		HWError:        st.HWError,
		Frame:          hex.EncodeToString(st.Encode()),
		At:             at.UTC(),
	}
}

type publishFunc func(topic string, qos byte, retained bool, payload []byte) error

// MQTTPublisher 将状态帧镜像到 MQTT 主题（coordinator.StatusSink）
type MQTTPublisher struct {
	client   paho.Client
	publish  publishFunc
	node     string
	topic    string
	qos      byte
	retained bool
	log      *zap.Logger
	now      func() time.Time
}

// NewMQTTPublisher 连接 broker；连接失败返回错误
func NewMQTTPublisher(cfg cfgpkg.MQTTConfig, node string, log *zap.Logger) (*MQTTPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}

	p := newPublisher(nil, node, cfg.Topic, cfg.QoS, cfg.Retained, log)
	p.client = client
	p.publish = func(topic string, qos byte, retained bool, payload []byte) error {
		t := client.Publish(topic, qos, retained, payload)
		if !t.WaitTimeout(timeout) {
			return ErrPublishTimeout
		}
		return t.Error()
	}
	return p, nil
}

func newPublisher(fn publishFunc, node, topic string, qos byte, retained bool, log *zap.Logger) *MQTTPublisher {
	if topic == "" {
		topic = "wiper/status"
	}
	if qos > 2 {
		qos = 2
	}
	return &MQTTPublisher{
		publish:  fn,
		node:     node,
		topic:    topic,
		qos:      qos,
		retained: retained,
		log:      log,
		now:      time.Now,
	}
}

// Topic 发布主题：<topic>/<node>
func (p *MQTTPublisher) Topic() string {
	if p.node == "" {
		return p.topic
	}
	return p.topic + "/" + p.node
}

// PublishStatus 发布一条状态镜像
func (p *MQTTPublisher) PublishStatus(ctx context.Context, st wire.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.client != nil && !p.client.IsConnected() {
		return fmt.Errorf("telemetry: broker not connected")
	}
	payload, err := json.Marshal(NewStatusMessage(p.node, st, p.now()))
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return p.publish(p.Topic(), p.qos, p.retained, payload)
}

// Close 断开连接
func (p *MQTTPublisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
