package channel

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"wabot/internal/audit"
	"wabot/internal/dispatch"
	"wabot/internal/domain"
	"wabot/internal/metrics"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stubGateway answers every call with "<op> <target>".
type stubGateway struct {
	err error
}

func (g stubGateway) reply(op, target string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return op + " " + target, nil
}

func (g stubGateway) SendText(_ context.Context, chatID, _ string) (string, error) {
	return g.reply("text", chatID)
}

func (g stubGateway) SendFile(_ context.Context, chatID, kind string) (string, error) {
	return g.reply("file:"+kind, chatID)
}

func (g stubGateway) SendVoice(_ context.Context, chatID string) (string, error) {
	return g.reply("voice", chatID)
}

func (g stubGateway) SendLocation(_ context.Context, chatID string) (string, error) {
	return g.reply("location", chatID)
}

func (g stubGateway) CreateGroup(_ context.Context, owner string) (string, error) {
	return g.reply("group", owner)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memRecorder) Record(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func newTestWebhook(gw domain.Gateway, rec ActionRecorder) *Webhook {
	return NewWebhook(WebhookConfig{
		Dispatcher: dispatch.New(gw, testWebhookLogger()),
		Recorder:   rec,
		Logger:     testWebhookLogger(),
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func post(t *testing.T, w *Webhook, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, req)
	return rr
}

func TestWebhookPayload_Batch(t *testing.T) {
	p := WebhookPayload{Messages: []WebhookMessage{
		{ID: "1", ChatID: "C1", Author: "A1", Body: "geo", Time: 1700000000},
		{ID: "2", ChatID: "C2", Body: "ogg", FromMe: true},
	}}
	batch := p.Batch()
	if len(batch) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(batch))
	}
	if batch[0].ChatID != "C1" || batch[0].Author != "A1" || batch[0].Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected first message %+v", batch[0])
	}
	if !batch[1].FromMe || !batch[1].Timestamp.IsZero() {
		t.Errorf("unexpected second message %+v", batch[1])
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	rr := post(t, w, "not json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	w := NewWebhook(WebhookConfig{
		Dispatcher:   dispatch.New(stubGateway{}, testWebhookLogger()),
		MaxBodyBytes: 64,
		Logger:       testWebhookLogger(),
	})

	rr := post(t, w, `{"messages":[{"body":"`+strings.Repeat("x", 128)+`","chatId":"C1"}]}`)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rr.Code)
	}

	rr = post(t, w, `{"messages":[{"body":"geo","chatId":"C1"}]}`)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for a body within the limit, got %d", rr.Code)
	}
}

func TestWebhookHandler_ReplyResult(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	body := `{"instanceId":"12345","messages":[
		{"id":"a","body":"hello","fromMe":true,"author":"bot@c.us","chatId":"C0"},
		{"id":"b","body":"file pdf","fromMe":false,"author":"u@c.us","chatId":"C1"}
	]}`
	rr := post(t, w, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "file:pdf C1" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Error("expected generated request id")
	}
}

func TestWebhookHandler_NothingActionable(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	rr := post(t, w, `{"messages":[{"body":"  ","chatId":"C1"},{"body":"file","chatId":"C2"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestWebhookHandler_AckOnly(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	rr := post(t, w, `{"instanceId":"1","ack":[{"id":"x","chatId":"C1","status":"viewed"}]}`)
	if rr.Code != http.StatusOK || rr.Body.Len() != 0 {
		t.Errorf("expected empty 200, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebhookHandler_GatewayError(t *testing.T) {
	rec := &memRecorder{}
	w := newTestWebhook(stubGateway{err: errors.New("connection refused")}, rec)
	rr := post(t, w, `{"messages":[{"body":"geo","chatId":"C1"}]}`)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rr.Code)
	}
	if len(rec.entries) != 1 || rec.entries[0].Status != audit.StatusFailed {
		t.Errorf("expected one failed entry, got %+v", rec.entries)
	}
}

func TestWebhookHandler_RecordsAction(t *testing.T) {
	rec := &memRecorder{}
	w := newTestWebhook(stubGateway{}, rec)
	before := metrics.ActionLogEntries(audit.StatusOK).Value()

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"messages":[{"body":"File JPG","chatId":"C7"}]}`))
	req.Header.Set(requestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, req)

	if rr.Header().Get(requestIDHeader) != "req-42" {
		t.Errorf("expected request id echoed, got %q", rr.Header().Get(requestIDHeader))
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.RequestID != "req-42" || e.ChatID != "C7" || e.Command != "file" || e.Arg != "JPG" || e.Status != audit.StatusOK {
		t.Errorf("unexpected entry %+v", e)
	}
	if got := metrics.ActionLogEntries(audit.StatusOK).Value(); got != before+1 {
		t.Errorf("expected action log gauge %d, got %d", before+1, got)
	}
}

func TestWebhookHandler_NoRecordWhenIdle(t *testing.T) {
	rec := &memRecorder{}
	w := newTestWebhook(stubGateway{}, rec)
	post(t, w, `{"messages":[{"body":"geo","chatId":"C1","fromMe":true}]}`)
	if len(rec.entries) != 0 {
		t.Errorf("expected no entries, got %+v", rec.entries)
	}
}

func TestWebhook_Healthz(t *testing.T) {
	w := newTestWebhook(stubGateway{}, nil)
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
}

func TestWebhook_MetricsRoute(t *testing.T) {
	w := NewWebhook(WebhookConfig{
		Dispatcher: dispatch.New(stubGateway{}, testWebhookLogger()),
		Metrics: http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			rw.Write([]byte("metrics"))
		}),
		MetricsPath: "/metrics",
		Logger:      testWebhookLogger(),
	})
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Body.String() != "metrics" {
		t.Errorf("expected metrics handler, got %q", rr.Body.String())
	}
}

func TestWebhook_StartStop(t *testing.T) {
	w := NewWebhook(WebhookConfig{
		Host:       "127.0.0.1",
		Port:       freePort(t),
		Dispatcher: dispatch.New(stubGateway{}, testWebhookLogger()),
		Logger:     testWebhookLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}
