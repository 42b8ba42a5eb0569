package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
)

type recordingGateway struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (g *recordingGateway) Push(ctx context.Context, address string, msg Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, address+"|"+msg.Title)
	return g.err
}

func (g *recordingGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		address    string
		wantScheme string
		wantTarget string
		wantErr    error
	}{
		{address: "expo:ExponentPushToken[abc]", wantScheme: "expo", wantTarget: "ExponentPushToken[abc]"},
		{address: "tg:12345", wantScheme: "tg", wantTarget: "12345"},
		{address: " ws:driver-1 ", wantScheme: "ws", wantTarget: "driver-1"},
		{address: "", wantErr: ErrEmptyAddress},
		{address: "no-scheme", wantErr: ErrUnsupportedAddress},
		{address: "expo:", wantErr: ErrUnsupportedAddress},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			scheme, target, err := SplitAddress(tt.address)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scheme != tt.wantScheme || target != tt.wantTarget {
				t.Errorf("got %s/%s, want %s/%s", scheme, target, tt.wantScheme, tt.wantTarget)
			}
		})
	}
}

func TestRouter_Push(t *testing.T) {
	expo := &recordingGateway{}
	tg := &recordingGateway{}
	router := NewRouter().Handle("expo", expo).Handle("tg", tg)

	ctx := context.Background()
	if err := router.Push(ctx, "expo:token-1", Message{Title: "offer"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := router.Push(ctx, "tg:42", Message{Title: "status"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := router.Push(ctx, "sms:555", Message{}); !errors.Is(err, ErrUnsupportedAddress) {
		t.Errorf("expected ErrUnsupportedAddress, got %v", err)
	}

	if got := expo.Calls(); len(got) != 1 || got[0] != "token-1|offer" {
		t.Errorf("expo calls = %v", got)
	}
	if got := tg.Calls(); len(got) != 1 || got[0] != "42|status" {
		t.Errorf("tg calls = %v", got)
	}
}

func TestExpoGateway_Push(t *testing.T) {
	var payload expoPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"data":{"status":"ok","id":"x"}}`))
	}))
	defer srv.Close()

	gw := NewExpoGateway(srv.URL, time.Second)
	msg := Message{Title: "New order", Body: "You have 60 seconds", Data: map[string]string{"order_id": "o-1"}}
	if err := gw.Push(context.Background(), "ExponentPushToken[1]", msg); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if payload.To != "ExponentPushToken[1]" || payload.Data["order_id"] != "o-1" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestExpoGateway_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"status":"error","message":"DeviceNotRegistered"}}`))
	}))
	defer srv.Close()

	gw := NewExpoGateway(srv.URL, time.Second)
	err := gw.Push(context.Background(), "t", Message{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "DeviceNotRegistered") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

type fakeTelegram struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramGateway_Push(t *testing.T) {
	bot := &fakeTelegram{}
	gw := NewTelegramGateway(bot)

	if err := gw.Push(context.Background(), "777", Message{Title: "Order accepted", Body: "driver on the way"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", bot.sent[0])
	}
	if msg.ChatID != 777 || msg.Text != "Order accepted\ndriver on the way" {
		t.Errorf("unexpected message %+v", msg)
	}

	if err := gw.Push(context.Background(), "not-a-number", Message{}); err == nil {
		t.Error("expected error for invalid chat id")
	}
}

func TestHub_PushToConnectedClient(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("key"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?key=driver-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected("driver-1") {
		if time.Now().After(deadline) {
			t.Fatal("client did not register")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Push(context.Background(), "driver-1", Message{Title: "offer"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	var got Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Title != "offer" {
		t.Errorf("Title = %s, want offer", got.Title)
	}

	if err := hub.Push(context.Background(), "driver-2", Message{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, r.URL.Query().Get("key"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?key=driver-1"
	header := http.Header{"Origin": []string{"https://attacker.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %+v", resp)
	}
	if hub.Connected("driver-1") {
		t.Error("client from foreign origin must not register")
	}

	header = http.Header{"Origin": []string{srv.URL}}
	conn, _, err = websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("same-origin Dial() error = %v", err)
	}
	conn.Close()
}

func TestAsync_SwallowsErrors(t *testing.T) {
	next := &recordingGateway{err: errors.New("boom")}
	async := NewAsync(next, time.Second, nil)

	if err := async.Push(context.Background(), "expo:t", Message{Title: "a"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := async.Push(context.Background(), "expo:t", Message{Title: "b"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	async.Wait()

	if got := next.Calls(); len(got) != 2 {
		t.Errorf("calls = %v, want 2", got)
	}
}
