package topic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/target/fleetpush/internal/push"
)

// ErrNoRoute is the code recorded when the broker returned a mandatory publish unrouted.
const ErrNoRoute = "NO_ROUTE"

// AMQPConfig configures the AMQP backend.
type AMQPConfig struct {
	URL      string
	Exchange string
	Logger   *slog.Logger
}

// AMQPPublisher publishes persistent, mandatory messages to a topic exchange with publisher
// confirms. Publishes are serialized on one channel so returns match their publish.
type AMQPPublisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	returns chan amqp.Return
}

var _ Publisher = (*AMQPPublisher)(nil)

// DialAMQP connects, declares the exchange and enables confirms.
func DialAMQP(cfg AMQPConfig) (*AMQPPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := strings.TrimSpace(cfg.Exchange)
	if exchange == "" {
		exchange = "fleet.commands"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{exchange: exchange, logger: logger.With("component", "amqp_publisher")}
	if err := p.connect(cfg.URL); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect(url string) error {
	conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 10 * time.Second, Locale: "en_US"})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err = ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if err = ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.conn, p.ch = conn, ch
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

// RoutingKey converts a slash-separated topic into an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil || p.ch.IsClosed() {
		return push.Transient(push.ProviderTopic, "AMQP_CLOSED", 0, "amqp channel closed", amqp.ErrClosed)
	}
	p.drainReturns()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, RoutingKey(topic), true, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return push.Transient(push.ProviderTopic, "AMQP", 0, "amqp publish failed", err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return push.Transient(push.ProviderTopic, "AMQP", 0, "amqp confirm wait failed", err)
	}
	// The broker sends basic.return before the ack of an unroutable mandatory message.
	select {
	case ret := <-p.returns:
		return push.Transient(push.ProviderTopic, ErrNoRoute, 0,
			fmt.Sprintf("no queue bound for %s: %s", ret.RoutingKey, ret.ReplyText), nil)
	default:
	}
	if !acked {
		return push.Transient(push.ProviderTopic, "AMQP_NACK", 0, "broker nacked publish", nil)
	}
	return nil
}

func (p *AMQPPublisher) drainReturns() {
	for {
		select {
		case <-p.returns:
		default:
			return
		}
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn("closing amqp connection", "error", err)
		return err
	}
	return nil
}
