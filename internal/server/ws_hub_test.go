package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PerpVault/internal/core"
	"PerpVault/internal/event"
	"PerpVault/internal/ingestion"
	"PerpVault/internal/observability"
	"PerpVault/internal/server"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func poolEvent(seq int64, asset string, value int64) event.EventEnvelope {
	return event.EventEnvelope{
		Sequence:     seq,
		OperationSeq: seq,
		OperationID:  uuid.New(),
		Operation:    "direct_pool_deposit",
		EventType:    event.EventTypePoolAmountChanged,
		Asset:        &asset,
		Payload:      &event.PoolAmountChanged{Asset: asset, Delta: value, Value: value},
		Timestamp:    genesis,
	}
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *server.WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) ingestion.PublishableEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt ingestion.PublishableEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return evt
}

func TestWSHub_BroadcastsWithAssetFilter(t *testing.T) {
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	streamCh := make(chan core.Output, 8)
	hub := server.NewWSHub(streamCh, metrics, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	api, err := server.NewHTTPServer(":0", server.HTTPDeps{Hub: hub, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	all := dialHub(t, srv, "")
	btcOnly := dialHub(t, srv, "?asset=BTC")
	waitForClients(t, hub, 2)

	if got := metricValue(t, metrics.WSClients); got != 2 {
		t.Errorf("ws clients gauge: got %v, want 2", got)
	}

	streamCh <- core.Output{Sequence: 1, Events: []event.EventEnvelope{poolEvent(1, "USDC", 10)}}
	streamCh <- core.Output{Sequence: 2, Events: []event.EventEnvelope{poolEvent(2, "BTC", 20)}}

	first := readEvent(t, all)
	second := readEvent(t, all)
	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("unfiltered client order: got %d, %d", first.Sequence, second.Sequence)
	}
	if first.EventType != "PoolAmountChanged" || *first.Asset != "USDC" {
		t.Errorf("first event: %+v", first)
	}

	// The filtered client skips USDC and sees BTC first.
	btc := readEvent(t, btcOnly)
	if btc.Sequence != 2 || *btc.Asset != "BTC" {
		t.Errorf("filtered client: got seq %d asset %v", btc.Sequence, btc.Asset)
	}
	if btc.CommandSeq != 2 {
		t.Errorf("command sequence: got %d, want 2", btc.CommandSeq)
	}

	btcOnly.Close()
	waitForClients(t, hub, 1)
}
