package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"exchange_go/internal/domain"
	"exchange_go/internal/infra"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readPush retries the publish until the subscription has been registered
// server-side, then returns the first pushed message.
func readPush(t *testing.T, conn *websocket.Conn, publish func()) Message {
	t.Helper()

	for i := 0; i < 50; i++ {
		publish()
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal push: %v", err)
		}
		return msg
	}
	t.Fatal("no push received")
	return Message{}
}

func TestDepthPushToSubscriber(t *testing.T) {
	h := NewHub(&infra.Metrics{}, 8)
	conn := dialHub(t, h)

	sub := subscribeRequest{Action: "subscribe", Symbols: []string{"BTC/POINT"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := readPush(t, conn, func() { h.OnDepthChanged("BTC/POINT") })
	if msg.Type != "depth" || msg.Symbol != "BTC/POINT" {
		t.Errorf("msg = %+v, want depth for BTC/POINT", msg)
	}
}

func TestTradeNotPushedWithoutSubscription(t *testing.T) {
	h := NewHub(&infra.Metrics{}, 8)
	conn := dialHub(t, h)

	// Subscribed to a different symbol only.
	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: []string{"ETH/POINT"}}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	h.OnTrade(&domain.Fill{ID: "f1", Symbol: "BTC/POINT"})

	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("received a push for an unsubscribed symbol")
	}
}

func TestOrderPushTargetsUser(t *testing.T) {
	h := NewHub(&infra.Metrics{}, 8)
	mine := dialHub(t, h)
	other := dialHub(t, h)

	if err := mine.WriteJSON(subscribeRequest{Action: "subscribe", UserID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := other.WriteJSON(subscribeRequest{Action: "subscribe", UserID: 8}); err != nil {
		t.Fatal(err)
	}

	order := &domain.Order{ID: "o1", UserID: 7, Symbol: "BTC/POINT"}
	msg := readPush(t, mine, func() { h.OnOrderUpdate(7, order) })
	if msg.Type != "order" {
		t.Errorf("msg type = %s, want order", msg.Type)
	}

	other.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("order update leaked to another user")
	}
}

func TestConnectionMetrics(t *testing.T) {
	m := &infra.Metrics{}
	h := NewHub(m, 8)
	conn := dialHub(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().ActiveConnections != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never counted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	for m.Snapshot().ActiveConnections != 0 {
		if time.Now().After(deadline) {
			t.Fatal("disconnect never counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
