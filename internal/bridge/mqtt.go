package bridge

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/marpi82/bragerconnect/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second
	maxReconnectDelay = time.Minute

	maxQoS         = 2
	maxPayloadSize = 1 << 20
)

// status is the retained payload of Topics.Status.
type status struct {
	State    string `json:"state"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
	Since    string `json:"since,omitempty"`
}

func statusPayload(state, clientID, reason string, now time.Time) []byte {
	s := status{State: state, ClientID: clientID, Reason: reason}
	if !now.IsZero() {
		s.Since = now.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(s)
	return b
}

// MQTTPublisher publishes bridge messages through a paho client and keeps the
// retained status topic current across broker reconnects.
type MQTTPublisher struct {
	client   pahomqtt.Client
	topics   Topics
	clientID string
	qos      byte
	log      *slog.Logger
}

// DialMQTT connects to the broker described by cfg and marks the bridge
// online. If the process dies without Close the broker marks it offline.
func DialMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{
		topics:   Topics{Prefix: cfg.TopicPrefix},
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
		log:      logger.With("component", "mqtt"),
	}

	opts := p.clientOptions(cfg)
	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s: no answer within %v", ErrConnectionFailed, brokerURL(cfg.Broker), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg.Broker), err)
	}
	return p, nil
}

func brokerURL(b config.MQTTBrokerConfig) *url.URL {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return &url.URL{Scheme: scheme, Host: b.Host + ":" + strconv.Itoa(b.Port)}
}

// clientOptions maps the mqtt config onto paho options. The last will and the
// connect handler both write the status topic.
func (p *MQTTPublisher) clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker).String()).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectDelay).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(p.topics.Status(), statusPayload("offline", p.clientID, "connection lost", time.Time{}), p.qos, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.Broker.Host})
	}

	// Runs on every (re)connect, so a broker restart cannot leave the will
	// message as the retained status.
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		p.log.Info("broker connected", "client_id", p.clientID)
		c.Publish(p.topics.Status(), p.qos, true, statusPayload("online", p.clientID, "", time.Now()))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		p.log.Warn("broker connection lost", "error", err)
	})
	return opts
}

// Publish sends payload to topic and waits for the broker to acknowledge it.
func (p *MQTTPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if p.client == nil || !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrPublishFailed, topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %s: %d bytes exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}
	return nil
}

// Close marks the bridge offline and disconnects.
func (p *MQTTPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	if p.client.IsConnectionOpen() {
		payload := statusPayload("offline", p.clientID, "shutdown", time.Now())
		if err := p.Publish(p.topics.Status(), payload, p.qos, true); err != nil {
			p.log.Warn("publishing offline status failed", "error", err)
		}
	}
	p.client.Disconnect(disconnectQuiesce)
	return nil
}
