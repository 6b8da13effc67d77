package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/memohai/assetrelay/internal/logger"
)

// QoSAtLeastOnce is the delivery level used for every notification.
const QoSAtLeastOnce byte = 1

const disconnectQuiesceMillis = 250

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// BridgeClientLogs routes paho's package-level warn/error loggers onto log.
// paho debug output stays disabled.
func BridgeClientLogs(log *slog.Logger) {
	l := log.With(slog.String("component", "paho"))
	mqtt.CRITICAL = logger.NewPrintLogger(l, slog.LevelError)
	mqtt.ERROR = logger.NewPrintLogger(l, slog.LevelError)
	mqtt.WARN = logger.NewPrintLogger(l, slog.LevelWarn)
}

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
}

// MQTTPublisher publishes over one long-lived paho client. Reconnects are
// left to the client library.
type MQTTPublisher struct {
	client   mqtt.Client
	broker   string
	attempts atomic.Int64
	logger   *slog.Logger
}

// NewMQTTPublisher builds the client without connecting; call Connect.
func NewMQTTPublisher(log *slog.Logger, opts MQTTOptions) (*MQTTPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	broker, err := parseBrokerURL(opts.BrokerURL)
	if err != nil {
		return nil, err
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = "asset-relay-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	username, password := opts.Username, opts.Password
	if username == "" {
		username, password = broker.username, broker.password
	}

	p := &MQTTPublisher{
		broker: broker.server,
		logger: log.With(slog.String("component", "mqtt"), slog.String("broker", broker.server)),
	}

	o := mqtt.NewClientOptions().
		AddBroker(broker.server).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)
	if opts.KeepAlive > 0 {
		o.SetKeepAlive(opts.KeepAlive)
	}
	if username != "" {
		o.SetUsername(username)
		o.SetPassword(password)
	}
	o.SetOnConnectHandler(func(mqtt.Client) {
		p.attempts.Store(0)
		p.logger.Info("mqtt connected", slog.String("client_id", clientID))
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Error("mqtt connection lost", slog.Any("error", err))
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		p.logger.Warn("mqtt reconnecting")
	})
	o.SetConnectionAttemptHandler(func(_ *url.URL, cfg *tls.Config) *tls.Config {
		if n := p.attempts.Add(1); n > 1 {
			p.logger.Warn("mqtt broker unreachable, retrying", slog.Int64("attempt", n))
		}
		return cfg
	})

	p.client = mqtt.NewClient(o)
	return p, nil
}

func newMQTTPublisherWithClient(log *slog.Logger, client mqtt.Client, broker string) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		broker: broker,
		logger: log.With(slog.String("component", "mqtt"), slog.String("broker", broker)),
	}
}

// Broker returns the broker address without credentials.
func (p *MQTTPublisher) Broker() string {
	return p.broker
}

// Connect starts connecting in the background and returns immediately.
// Failures are logged; the client keeps retrying until Close.
func (p *MQTTPublisher) Connect() {
	token := p.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.logger.Error("mqtt connect failed", slog.Any("error", err))
		}
	}()
}

// Connected reports whether the broker connection is currently open.
func (p *MQTTPublisher) Connected() bool {
	return p.client.IsConnectionOpen()
}

// Publish sends payload at QoS 1 and waits for the broker acknowledgement
// or ctx. It fails fast with ErrNotConnected while the connection is down.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, QoSAtLeastOnce, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
}

// Close disconnects, letting in-flight work finish briefly.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesceMillis)
}

type brokerAddress struct {
	server   string
	username string
	password string
}

var brokerSchemes = map[string]struct {
	scheme string
	port   string
}{
	"mqtt":  {"tcp", "1883"},
	"tcp":   {"tcp", "1883"},
	"mqtts": {"ssl", "8883"},
	"ssl":   {"ssl", "8883"},
	"tls":   {"ssl", "8883"},
	"ws":    {"ws", "80"},
	"wss":   {"wss", "443"},
}

// parseBrokerURL normalizes mqtt:// style URLs to what paho dials and splits
// out any userinfo.
func parseBrokerURL(raw string) (brokerAddress, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return brokerAddress{}, fmt.Errorf("invalid mqtt url: %w", err)
	}
	scheme, ok := brokerSchemes[strings.ToLower(u.Scheme)]
	if !ok {
		return brokerAddress{}, fmt.Errorf("invalid mqtt url %q: unsupported scheme", raw)
	}
	if u.Hostname() == "" {
		return brokerAddress{}, fmt.Errorf("invalid mqtt url %q: missing host", raw)
	}
	port := u.Port()
	if port == "" {
		port = scheme.port
	}

	out := brokerAddress{}
	if u.User != nil {
		out.username = u.User.Username()
		out.password, _ = u.User.Password()
	}
	server := url.URL{
		Scheme: scheme.scheme,
		Host:   net.JoinHostPort(u.Hostname(), port),
	}
	if scheme.scheme == "ws" || scheme.scheme == "wss" {
		server.Path = u.Path
	}
	out.server = server.String()
	return out, nil
}
