package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/edgeworth/internal/market"
)

const (
	maxFeedConns  = 8
	feedWriteWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
}

// Feed event shapes. Every message carries a type tag so dashboards can
// switch on it without sniffing fields.
type helloEvent struct {
	Type   string `json:"type"` // "hello"
	RunID  string `json:"run_id"`
	State  string `json:"state"`
	Rounds int    `json:"rounds"`
	Agents int    `json:"agents"`
}

type tradeEvent struct {
	Type  string       `json:"type"` // "trade"
	Round int          `json:"round"`
	Trade market.Trade `json:"trade"`
}

type settledEvent struct {
	Type   string        `json:"type"` // "settled"
	Rounds int           `json:"rounds"`
	Report market.Report `json:"report"`
}

// feedHub fans marshaled events out to every connected feed client. Slow
// consumers drop messages rather than stalling the run loop.
type feedHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan []byte
	conns  int32
}

func newFeedHub() *feedHub {
	return &feedHub{subs: make(map[uint64]chan []byte)}
}

func (h *feedHub) subscribe() (uint64, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan []byte, 64)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *feedHub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *feedHub) publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
}

// PublishTrade broadcasts one settled trade. Wire it to Runner.OnTrade.
func (s *Server) PublishTrade(round int, tr market.Trade) {
	s.init()
	s.feed.publish(tradeEvent{Type: "trade", Round: round, Trade: tr})
}

// PublishSettled broadcasts the terminal report. Wire it to Runner.OnSettled.
func (s *Server) PublishSettled(rounds int, report market.Report) {
	s.init()
	s.feed.publish(settledEvent{Type: "settled", Rounds: rounds, Report: report})
}

// handleFeed upgrades to a WebSocket and streams trade events as they settle.
// Clients get a hello frame with the current state, then trade frames, then a
// settled frame. The connection stays open until the client goes away.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	// Connection limit.
	current := atomic.AddInt32(&s.feed.conns, 1)
	if current > maxFeedConns {
		atomic.AddInt32(&s.feed.conns, -1)
		http.Error(w, "too many feed connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.feed.conns, -1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Subscribe before the hello snapshot so no trade lands in the gap.
	subID, ch := s.feed.subscribe()
	defer s.feed.unsubscribe(subID)

	snap := s.Runner.Snapshot()
	hello, err := json.Marshal(helloEvent{
		Type:   "hello",
		RunID:  s.RunID,
		State:  snap.State.String(),
		Rounds: snap.Rounds,
		Agents: len(snap.Balances),
	})
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	slog.Info("feed client connected", "sub_id", subID)

	// Reader goroutine: the client sends nothing we care about, but reading
	// is what surfaces close frames and dead connections.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			slog.Info("feed client disconnected", "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}
