package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/v1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode feed frame: %v\n%s", err, data)
	}
	return msg
}

func TestFeed_StreamsTradesToSettlement(t *testing.T) {
	s := pairServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts)

	s.Runner.OnTrade = s.PublishTrade
	s.Runner.OnSettled = s.PublishSettled

	hello := readEvent(t, conn)
	if hello["type"] != "hello" {
		t.Fatalf("first frame = %v, want hello", hello)
	}
	if hello["state"] != "trading" || hello["agents"] != float64(2) {
		t.Errorf("hello = %v", hello)
	}

	// The hello frame confirms the subscription exists, so no trade can be
	// lost between here and the run.
	if err := s.Runner.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	ev := readEvent(t, conn)
	if ev["type"] != "trade" {
		t.Fatalf("second frame = %v, want trade", ev)
	}
	if ev["round"] != float64(0) {
		t.Errorf("round = %v, want 0", ev["round"])
	}
	trade, ok := ev["trade"].(map[string]any)
	if !ok {
		t.Fatalf("trade frame missing body: %v", ev)
	}
	if trade["price"] != 4.1 || trade["buyer"] != float64(1) {
		t.Errorf("trade = %v", trade)
	}

	ev = readEvent(t, conn)
	if ev["type"] != "settled" {
		t.Fatalf("third frame = %v, want settled", ev)
	}
	if ev["rounds"] != float64(1) {
		t.Errorf("rounds = %v, want 1", ev["rounds"])
	}
	report, ok := ev["report"].(map[string]any)
	if !ok || report["valid"] != true {
		t.Errorf("report = %v", ev["report"])
	}
}

func TestFeed_HelloReflectsSettledMarket(t *testing.T) {
	s := pairServer(t)
	if err := s.Runner.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts)
	hello := readEvent(t, conn)
	if hello["state"] != "settled" || hello["rounds"] != float64(1) {
		t.Errorf("hello = %v", hello)
	}
}

func TestFeed_PublishWithoutSubscribersIsSafe(t *testing.T) {
	s := pairServer(t)
	// Nothing dialed yet; publishing must not block or panic.
	s.Runner.OnTrade = s.PublishTrade
	s.Runner.OnSettled = s.PublishSettled
	if err := s.Runner.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
}
