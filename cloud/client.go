// Package cloud publishes sensor deltas to an MQTT broker as device shadow
// updates.
package cloud

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Uranury/sensorhub/config"
	"github.com/Uranury/sensorhub/sensors"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxPayloadSize = 128 << 10
)

// Errors returned by the client. Use errors.Is to check for them.
var (
	ErrConnectionFailed = errors.New("cloud: connection failed")
	ErrNotConnected     = errors.New("cloud: client not connected")
	ErrPublishFailed    = errors.New("cloud: publish failed")
	ErrInvalidTopic     = errors.New("cloud: topic cannot be empty")
	ErrInvalidTLS       = errors.New("cloud: invalid tls settings")
)

// Client forwards shadow documents to the broker.
//
// Safe for concurrent use. paho reconnects on its own; publishes while the
// link is down fail with ErrNotConnected.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger *zap.SugaredLogger
}

// Connect dials the broker and announces the device online.
func Connect(cfg config.MQTTConfig, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = "sensorhub-" + uuid.NewString()
	}
	c := &Client{
		cfg:    cfg,
		topics: Topics{Thing: cfg.Thing, Update: cfg.Topic},
		logger: logger,
	}

	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts.SetWill(c.topics.Status(), statusOffline, byte(cfg.QoS), true)
	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		pc.Publish(c.topics.Status(), byte(cfg.QoS), true, statusOnline)
		c.logger.Infow("mqtt connected", "client_id", cfg.Broker.ClientID)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.Warnw("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		tlsCfg, err := buildTLSConfig(cfg.Broker)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	return opts, nil
}

// buildTLSConfig loads the optional CA bundle and client key pair.
func buildTLSConfig(b config.MQTTBrokerConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: b.Host}

	if b.CAFile != "" {
		pem, err := os.ReadFile(b.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading ca file: %w", ErrInvalidTLS, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidTLS, b.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if b.CertFile != "" || b.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(b.CertFile, b.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrInvalidTLS, err)
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}
	return tlsCfg, nil
}

// Publish sends one shadow document. Changes are not used; the payload
// already carries them.
func (c *Client) Publish(ctx context.Context, payload []byte, _ []sensors.Change) error {
	topic := c.topics.ShadowUpdate()
	if topic == "" {
		return ErrInvalidTopic
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close marks the device offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, statusOffline)
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
