package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/icodeforyou/elpris-go/hours"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/shopspring/decimal"
)

type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool {
	return true
}

func (t fakeToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t fakeToken) Error() error {
	return t.err
}

func (t fakeToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	err      error
	messages []message
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return fakeToken{err: c.err}
}

var now = time.Date(2025, time.August, 7, 13, 30, 0, 0, hours.Location())

func newTestPublisher(client *fakeClient) *Publisher {
	return &Publisher{
		logger:  slog.New(slog.DiscardHandler),
		pub:     client,
		prefix:  "elpris",
		qos:     1,
		timeout: time.Second,
		now:     func() time.Time { return now },
	}
}

func records(start hours.DateHour, totals ...string) []types.PriceRecord {
	out := make([]types.PriceRecord, len(totals))
	for i, total := range totals {
		p := decimal.RequireFromString(total)
		out[i] = types.PriceRecord{When: start.Add(i), SpotPrice: p, TotalPrice: p, MedianPrice: p, Category: types.CategoryOkay}
	}
	return out
}

func TestCheapestUpcoming(t *testing.T) {
	start := hours.DateHour{Date: "2025-08-07", Hour: 12}

	tests := []struct {
		name   string
		totals []string
		want   hours.DateHour
		found  bool
	}{
		{name: "skips hours already started", totals: []string{"0.1", "0.5", "0.9", "0.4"}, want: start.Add(3), found: true},
		{name: "earliest of equal prices", totals: []string{"1", "1", "2", "0.3", "0.3"}, want: start.Add(3), found: true},
		{name: "nothing ahead", totals: []string{"1", "2"}, found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cheapestUpcoming(now, records(start, tt.totals...))
			if ok != tt.found {
				t.Fatalf("got found %v, wanted %v", ok, tt.found)
			}
			if ok && got.When != tt.want {
				t.Errorf("got %v, wanted %v", got.When, tt.want)
			}
		})
	}
}

func TestPricesUpdatedPublishesRetained(t *testing.T) {
	client := &fakeClient{}
	p := newTestPublisher(client)

	p.PricesUpdated(context.Background(), records(hours.DateHour{Date: "2025-08-07", Hour: 14}, "2.5", "1.25", "3"))

	if len(client.messages) != 2 {
		t.Fatalf("got %d messages, wanted 2", len(client.messages))
	}
	for _, m := range client.messages {
		if !m.retained {
			t.Errorf("got non retained message on %s", m.topic)
		}
	}

	if client.messages[0].topic != "elpris/prices" {
		t.Errorf("got topic %s, wanted elpris/prices", client.messages[0].topic)
	}
	var prices PricesMessage
	if err := json.Unmarshal(client.messages[0].payload, &prices); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(prices.Prices) != 3 || prices.UpdatedAt != "2025-08-07T13:30:00+02:00" {
		t.Errorf("got %+v, wanted 3 prices updated at 13:30", prices)
	}

	if client.messages[1].topic != "elpris/cheapest_hour" {
		t.Errorf("got topic %s, wanted elpris/cheapest_hour", client.messages[1].topic)
	}
	var cheapest PriceMessage
	if err := json.Unmarshal(client.messages[1].payload, &cheapest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cheapest.StartTime != "2025-08-07T15:00:00" || cheapest.TotalPrice != "1.25" {
		t.Errorf("got %+v, wanted 15:00 at 1.25", cheapest)
	}
}

func TestPublishFailureStopsBatch(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := newTestPublisher(client)

	p.PricesUpdated(context.Background(), records(hours.DateHour{Date: "2025-08-07", Hour: 14}, "1"))
	if len(client.messages) != 1 {
		t.Errorf("got %d publish attempts, wanted 1", len(client.messages))
	}
}

func TestTopicPrefix(t *testing.T) {
	p := &Publisher{}
	if got := p.topic("status"); got != "status" {
		t.Errorf("got %s, wanted status", got)
	}
	p.prefix = "home/elpris"
	if got := p.topic("status"); got != "home/elpris/status" {
		t.Errorf("got %s, wanted home/elpris/status", got)
	}
}
