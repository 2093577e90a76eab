package broker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"greplay/internal/config"
	"greplay/internal/constants"
	"greplay/internal/logger"
	"greplay/pkg/errors"
	"greplay/pkg/logging"
	"greplay/pkg/metrics"
	"greplay/pkg/tracing"
)

const transportMQTT = "mqtt"

// MQTTEndpoint is a broker address split into what paho needs.
type MQTTEndpoint struct {
	Server   string
	Username string
	Password string
}

// ParseMQTTURL maps mqtt/mqtts/ws/wss URLs onto paho server URLs, filling
// in the scheme's default port.
func ParseMQTTURL(raw string) (MQTTEndpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return MQTTEndpoint{}, fmt.Errorf("invalid broker URL: %w", err)
	}
	if u.Hostname() == "" {
		return MQTTEndpoint{}, fmt.Errorf("broker URL %q has no host", raw)
	}

	var scheme, port string
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		scheme, port = "tcp", "1883"
	case "mqtts", "ssl", "tls":
		scheme, port = "ssl", "8883"
	case "ws":
		scheme, port = "ws", "80"
	case "wss":
		scheme, port = "wss", "443"
	default:
		return MQTTEndpoint{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
	if p := u.Port(); p != "" {
		port = p
	}

	ep := MQTTEndpoint{Server: fmt.Sprintf("%s://%s:%s%s", scheme, u.Hostname(), port, u.EscapedPath())}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

func newMQTTOptions(cfg config.BrokerConfig, clientID string, log logger.Logger) (*mqtt.ClientOptions, error) {
	ep, err := ParseMQTTURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}
	// brokers drop an existing session when a second client reuses its id
	clientID = fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8])

	opts := mqtt.NewClientOptions().
		AddBroker(ep.Server).
		SetClientID(clientID).
		SetCleanSession(true).
		SetProtocolVersion(4).
		SetAutoReconnect(true).
		SetConnectTimeout(constants.MQTTConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnw("MQTT connection lost", "broker", ep.Server, "error", err)
		})
	if ep.Username != "" {
		opts.SetUsername(ep.Username)
		opts.SetPassword(ep.Password)
	}
	return opts, nil
}

func connectMQTT(client mqtt.Client) error {
	return awaitToken(client.Connect(), constants.MQTTConnectTimeout, "connect")
}

// awaitToken waits for an MQTT operation and reports a timeout as ErrTimeout.
func awaitToken(tok mqtt.Token, timeout time.Duration, op string) error {
	if !tok.WaitTimeout(timeout) {
		return errors.ErrTimeout.WithDetail("message", fmt.Sprintf("MQTT %s timed out", op))
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("MQTT %s failed: %w", op, err)
	}
	return nil
}

type MQTTPublisher struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  logger.Logger
}

func NewMQTTPublisher(cfg config.BrokerConfig, clientID string, log logger.Logger) (*MQTTPublisher, error) {
	opts, err := newMQTTOptions(cfg, clientID, log)
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)
	if err := connectMQTT(client); err != nil {
		return nil, err
	}

	return &MQTTPublisher{
		client:  client,
		qos:     byte(cfg.QoS),
		timeout: cfg.PublishTimeout,
		logger:  log,
	}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	_, span := tracing.GetTracer("greplay-mqtt").Start(ctx, "mqtt.publish")
	defer span.End()

	start := time.Now()
	err := p.publish(ctx, topic, payload)
	metrics.ObserveBrokerPublish(transportMQTT, len(payload), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (p *MQTTPublisher) publish(ctx context.Context, topic string, payload []byte) error {
	tok := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return errors.ErrTimeout.WithDetail("message", fmt.Sprintf("MQTT publish to %s timed out", topic))
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("MQTT publish to %s failed: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(constants.MQTTDisconnectQuiet)
	return nil
}

type MQTTSubscriber struct {
	cfg         config.BrokerConfig
	clientID    string
	logger      logger.Logger
	serviceName string

	mu     sync.Mutex
	client mqtt.Client
	wg     sync.WaitGroup
}

func NewMQTTSubscriber(cfg config.BrokerConfig, clientID string, log logger.Logger) (*MQTTSubscriber, error) {
	if _, err := ParseMQTTURL(cfg.URL); err != nil {
		return nil, err
	}
	return &MQTTSubscriber{
		cfg:         cfg,
		clientID:    clientID,
		logger:      log,
		serviceName: "unknown",
	}, nil
}

func (s *MQTTSubscriber) SetServiceName(name string) {
	s.serviceName = name
}

// Subscribe connects, subscribes to topics (again after every reconnect) and
// blocks until ctx is done. Handlers run concurrently.
func (s *MQTTSubscriber) Subscribe(ctx context.Context, topics []string, handler HandlerFunc) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics to subscribe to")
	}

	opts, err := newMQTTOptions(s.cfg, s.clientID, s.logger)
	if err != nil {
		return err
	}
	opts.SetOrderMatters(false)

	baseCtx := logging.WithServiceName(ctx, s.serviceName)
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = byte(s.cfg.QoS)
	}

	onMessage := func(_ mqtt.Client, m mqtt.Message) {
		s.wg.Add(1)
		defer s.wg.Done()
		s.dispatch(baseCtx, m.Topic(), m.Payload(), handler)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		err := awaitToken(c.SubscribeMultiple(filters, onMessage), constants.MQTTConnectTimeout, "subscribe")
		if err != nil {
			s.logger.ErrorwCtx(baseCtx, "MQTT subscribe failed", "topics", topics, "error", err)
			return
		}
		s.logger.InfowCtx(baseCtx, "Subscribed to feed", "topics", topics)
	})

	client := mqtt.NewClient(opts)
	if err := connectMQTT(client); err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	<-ctx.Done()
	return ctx.Err()
}

func (s *MQTTSubscriber) dispatch(ctx context.Context, topic string, payload []byte, handler HandlerFunc) {
	metrics.ObserveBrokerReceive(transportMQTT, len(payload))

	msgCtx, span := tracing.GetTracer("greplay-mqtt").Start(ctx, "mqtt.consume")
	defer span.End()
	msgCtx = logging.WithTopic(msgCtx, topic)

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorwCtx(msgCtx, "Panic recovered during message handling", "error", errors.RecoverPanic(r))
		}
	}()

	if err := handler(msgCtx, Delivery{Topic: topic, Payload: payload}); err != nil {
		span.RecordError(err)
		s.logger.ErrorwCtx(msgCtx, "Failed to handle feed message", "error", err)
	}
}

func (s *MQTTSubscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.IsConnectionOpen()
}

func (s *MQTTSubscriber) Close() error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(constants.MQTTDisconnectQuiet)
	}
	s.wg.Wait()
	return nil
}
