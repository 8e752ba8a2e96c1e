package www

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/icodeforyou/elpris-go/types"
	"github.com/shopspring/decimal"
)

func TestHubBroadcastsPriceUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(discard)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("got %d clients, wanted 1", hub.Clients())
	}

	hub.PricesUpdated(ctx, []types.PriceRecord{{
		When:       start,
		SpotPrice:  decimal.RequireFromString("0.5"),
		TotalPrice: decimal.RequireFromString("1.75"),
		Category:   types.CategoryAvoid,
	}})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var ev PricesEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != "prices" || len(ev.Prices) != 1 {
		t.Fatalf("got %+v, wanted one price", ev)
	}
	if ev.Prices[0].TotalPrice != "1.75" || ev.Prices[0].Category != "AVOID" {
		t.Errorf("got %+v, wanted total 1.75 and AVOID", ev.Prices[0])
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Errorf("got %d clients after disconnect, wanted 0", hub.Clients())
	}
}
