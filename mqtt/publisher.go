package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
)

const (
	topicStatus   = "status"
	topicPrices   = "prices"
	topicCheapest = "cheapest_hour"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

type Options struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Qos         byte
}

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Publisher pushes every stored batch as retained messages, so that home
// automation picks up the latest prices as soon as it subscribes.
type Publisher struct {
	logger  *slog.Logger
	client  paho.Client
	pub     tokenPublisher
	prefix  string
	qos     byte
	timeout time.Duration
	now     func() time.Time
}

func New(logger *slog.Logger, opts Options) *Publisher {
	logger = logger.With(slog.String("module", "mqtt"))
	p := &Publisher{
		logger:  logger,
		prefix:  opts.TopicPrefix,
		qos:     opts.Qos,
		timeout: 5 * time.Second,
		now:     time.Now,
	}

	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetWill(p.topic(topicStatus), "offline", opts.Qos, true)
	co.OnConnect = func(client paho.Client) {
		logger.Info("MQTT connected", slog.String("broker", opts.Broker))
		if err := p.publish(topicStatus, "online"); err != nil {
			logger.Warn("MQTT status publish failed", slog.Any("error", err))
		}
	}
	co.OnConnectionLost = func(client paho.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	}

	installLoggers(logger)

	p.client = paho.NewClient(co)
	p.pub = p.client
	return p
}

func (p *Publisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

// Connect waits for the first connection attempt only. Later attempts run
// in the background.
func (p *Publisher) Connect() error {
	p.logger.Debug("connecting MQTT client")
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	return token.Error()
}

func (p *Publisher) Disconnect() {
	p.logger.Info("disconnecting MQTT client")
	if err := p.publish(topicStatus, "offline"); err != nil {
		p.logger.Debug("MQTT status publish failed", slog.Any("error", err))
	}
	p.client.Disconnect(250)
}

func (p *Publisher) publish(name string, payload any) error {
	var body []byte
	switch v := payload.(type) {
	case string:
		body = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", name, err)
		}
		body = b
	}

	token := p.pub.Publish(p.topic(name), p.qos, true, body)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, p.topic(name))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", p.topic(name), err)
	}
	return nil
}

type PriceMessage struct {
	StartTime  string `json:"start_time"`
	SpotPrice  string `json:"spot_price"`
	TotalPrice string `json:"total_price"`
	Category   string `json:"category"`
}

type PricesMessage struct {
	UpdatedAt string         `json:"updated_at"`
	Median    string         `json:"median"`
	Prices    []PriceMessage `json:"prices"`
}

func toPriceMessage(r types.PriceRecord) PriceMessage {
	return PriceMessage{
		StartTime:  r.When.IsoString(),
		SpotPrice:  r.SpotPrice.String(),
		TotalPrice: r.TotalPrice.String(),
		Category:   string(r.Category),
	}
}

func newPricesMessage(now time.Time, records []types.PriceRecord) PricesMessage {
	msg := PricesMessage{
		UpdatedAt: now.In(hours.Location()).Format(time.RFC3339),
		Prices:    make([]PriceMessage, len(records)),
	}
	for i, r := range records {
		msg.Prices[i] = toPriceMessage(r)
	}
	if len(records) > 0 {
		msg.Median = records[0].MedianPrice.String()
	}
	return msg
}

// cheapestUpcoming is the lowest total price at or after now, earliest first
// on ties.
func cheapestUpcoming(now time.Time, records []types.PriceRecord) (types.PriceRecord, bool) {
	from := hours.Ceil(now.In(hours.Location()))
	var best types.PriceRecord
	found := false
	for _, r := range records {
		if r.When.Before(from) {
			continue
		}
		if !found || r.TotalPrice.LessThan(best.TotalPrice) ||
			(r.TotalPrice.Equal(best.TotalPrice) && r.When.Before(best.When)) {
			best, found = r, true
		}
	}
	return best, found
}

// PricesUpdated publishes the batch and the cheapest hour still ahead.
func (p *Publisher) PricesUpdated(ctx context.Context, records []types.PriceRecord) {
	now := p.now()
	if err := p.publish(topicPrices, newPricesMessage(now, records)); err != nil {
		p.logger.Warn("MQTT prices publish failed", slog.Any("error", err))
		return
	}

	if best, ok := cheapestUpcoming(now, records); ok {
		if err := p.publish(topicCheapest, toPriceMessage(best)); err != nil {
			p.logger.Warn("MQTT cheapest hour publish failed", slog.Any("error", err))
			return
		}
	}
	p.logger.Debug("MQTT prices published", slog.Int("count", len(records)))
}
