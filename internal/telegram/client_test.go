package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBotAPI struct {
	sent       []map[string]string
	updates    []map[string]any
	lastOffset string
	lastWait   string
	fail       bool
}

func (f *fakeBotAPI) server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"id": 1, "is_bot": true, "first_name": "watch", "username": "watch_bot"},
			})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if f.fail {
				_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
				return
			}
			f.sent = append(f.sent, map[string]string{
				"chat_id":      r.FormValue("chat_id"),
				"text":         r.FormValue("text"),
				"reply_markup": r.FormValue("reply_markup"),
			})
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":     true,
				"result": map[string]any{"message_id": len(f.sent), "date": 0, "chat": map[string]any{"id": 42, "type": "private"}},
			})
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			f.lastOffset = r.FormValue("offset")
			f.lastWait = r.FormValue("timeout")
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": f.updates})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestClient(t *testing.T, f *fakeBotAPI) (*Client, func()) {
	srv := f.server(t)
	client, err := NewClient(Options{
		Token:       "token",
		APIEndpoint: srv.URL + "/bot%s/%s",
		HTTPClient:  srv.Client(),
	}, zerolog.Nop())
	if err != nil {
		srv.Close()
		t.Fatalf("new client: %v", err)
	}
	return client, srv.Close
}

func TestSendWithKeyboard(t *testing.T) {
	f := &fakeBotAPI{}
	client, done := newTestClient(t, f)
	defer done()

	err := client.Send(context.Background(), 42, "hello", [][]string{{"Spot", "Perpetual"}, {"0. Cancel"}})
	if err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(f.sent))
	}
	got := f.sent[0]
	if got["chat_id"] != "42" || got["text"] != "hello" {
		t.Fatalf("unexpected payload %+v", got)
	}

	var markup struct {
		Keyboard [][]struct {
			Text string `json:"text"`
		} `json:"keyboard"`
		Resize  bool `json:"resize_keyboard"`
		OneTime bool `json:"one_time_keyboard"`
	}
	if err := json.Unmarshal([]byte(got["reply_markup"]), &markup); err != nil {
		t.Fatalf("decode reply_markup: %v", err)
	}
	if len(markup.Keyboard) != 2 || markup.Keyboard[0][1].Text != "Perpetual" || !markup.OneTime || !markup.Resize {
		t.Fatalf("unexpected keyboard %+v", markup)
	}
}

func TestSendFailure(t *testing.T) {
	f := &fakeBotAPI{fail: true}
	client, done := newTestClient(t, f)
	defer done()

	if err := client.Send(context.Background(), 42, "hello", nil); err == nil {
		t.Fatal("ok=false should return an error")
	}
}

func TestUpdatesAdvancesOffset(t *testing.T) {
	f := &fakeBotAPI{updates: []map[string]any{
		{"update_id": 10, "message": map[string]any{
			"message_id": 1, "date": 0, "text": "/start",
			"chat": map[string]any{"id": 42, "type": "private"},
			"from": map[string]any{"id": 7, "is_bot": false, "first_name": "op", "username": "operator"},
		}},
		{"update_id": 11},
		{"update_id": 12, "message": map[string]any{
			"message_id": 2, "date": 0, "text": "5. Status",
			"chat": map[string]any{"id": 42, "type": "private"},
		}},
	}}
	client, done := newTestClient(t, f)
	defer done()

	msgs, next, err := client.Updates(context.Background(), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("updates should succeed: %v", err)
	}
	if f.lastOffset != "10" || f.lastWait != "30" {
		t.Fatalf("unexpected poll params offset=%s timeout=%s", f.lastOffset, f.lastWait)
	}
	if next != 13 {
		t.Fatalf("offset should move past the last update, got %d", next)
	}
	if len(msgs) != 2 {
		t.Fatalf("updates without messages are skipped, got %d messages", len(msgs))
	}
	if msgs[0].ChatID != 42 || msgs[0].Text != "/start" || msgs[0].Username != "operator" {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
}
