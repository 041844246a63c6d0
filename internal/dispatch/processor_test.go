package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"wabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type call struct {
	Op     string
	Target string
	Arg    string
}

// recordingGateway records every call and returns "<op>:<target>".
type recordingGateway struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (g *recordingGateway) record(op, target, arg string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{Op: op, Target: target, Arg: arg})
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("%s:%s", op, target), nil
}

func (g *recordingGateway) SendText(_ context.Context, chatID, text string) (string, error) {
	return g.record("text", chatID, text)
}

func (g *recordingGateway) SendFile(_ context.Context, chatID, kind string) (string, error) {
	return g.record("file", chatID, kind)
}

func (g *recordingGateway) SendVoice(_ context.Context, chatID string) (string, error) {
	return g.record("voice", chatID, "")
}

func (g *recordingGateway) SendLocation(_ context.Context, chatID string) (string, error) {
	return g.record("location", chatID, "")
}

func (g *recordingGateway) CreateGroup(_ context.Context, owner string) (string, error) {
	return g.record("group", owner, "")
}

func msg(chatID, body string) domain.InboundMessage {
	return domain.InboundMessage{ChatID: chatID, Author: chatID, Body: body}
}

func process(t *testing.T, gw *recordingGateway, batch domain.InboundBatch) string {
	t.Helper()
	res, err := New(gw, testLogger()).Process(context.Background(), batch)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	return res
}

func TestProcess_AllFromMe(t *testing.T) {
	gw := &recordingGateway{}
	batch := domain.InboundBatch{
		{ChatID: "C1", Body: "geo", FromMe: true},
		{ChatID: "C2", Body: "chatid", FromMe: true},
	}
	if res := process(t, gw, batch); res != "" {
		t.Errorf("expected empty result, got %q", res)
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected no gateway calls, got %v", gw.calls)
	}
}

func TestProcess_EmptyBodies(t *testing.T) {
	gw := &recordingGateway{}
	batch := domain.InboundBatch{msg("C1", ""), msg("C2", "   "), msg("C3", "\t\n")}
	if res := process(t, gw, batch); res != "" {
		t.Errorf("expected empty result, got %q", res)
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected no gateway calls, got %v", gw.calls)
	}
}

func TestProcess_EmptyBatch(t *testing.T) {
	gw := &recordingGateway{}
	if res := process(t, gw, nil); res != "" {
		t.Errorf("expected empty result, got %q", res)
	}
}

func TestProcess_ChatID(t *testing.T) {
	for _, body := range []string{"chatid", "CHATID", "ChatId"} {
		gw := &recordingGateway{}
		res := process(t, gw, domain.InboundBatch{msg("C1", body)})
		if res != "text:C1" {
			t.Errorf("%q: unexpected result %q", body, res)
		}
		if len(gw.calls) != 1 {
			t.Fatalf("%q: expected 1 call, got %d", body, len(gw.calls))
		}
		if gw.calls[0].Op != "text" || !strings.Contains(gw.calls[0].Arg, "C1") {
			t.Errorf("%q: expected text reply containing C1, got %+v", body, gw.calls[0])
		}
	}
}

func TestProcess_File(t *testing.T) {
	gw := &recordingGateway{}
	res := process(t, gw, domain.InboundBatch{msg("C1", "file jpg")})
	if res != "file:C1" {
		t.Errorf("unexpected result %q", res)
	}
	if len(gw.calls) != 1 || gw.calls[0] != (call{Op: "file", Target: "C1", Arg: "jpg"}) {
		t.Errorf("unexpected calls %v", gw.calls)
	}
}

func TestProcess_FileKindPassedThrough(t *testing.T) {
	gw := &recordingGateway{}
	process(t, gw, domain.InboundBatch{msg("C1", "FILE Exe extra")})
	if len(gw.calls) != 1 || gw.calls[0].Arg != "Exe" {
		t.Errorf("expected raw kind Exe, got %v", gw.calls)
	}
}

func TestProcess_MalformedFileFallsThrough(t *testing.T) {
	gw := &recordingGateway{}
	batch := domain.InboundBatch{msg("C1", "file"), msg("C2", "geo")}
	res := process(t, gw, batch)
	if res != "location:C2" {
		t.Errorf("unexpected result %q", res)
	}
	if len(gw.calls) != 1 || gw.calls[0].Op != "location" {
		t.Errorf("expected only sendLocation, got %v", gw.calls)
	}
}

func TestProcess_MalformedFileOnly(t *testing.T) {
	gw := &recordingGateway{}
	if res := process(t, gw, domain.InboundBatch{msg("C1", "file  ")}); res != "" {
		t.Errorf("expected empty result, got %q", res)
	}
	if len(gw.calls) != 0 {
		t.Errorf("expected no calls, got %v", gw.calls)
	}
}

func TestProcess_Unrecognized(t *testing.T) {
	gw := &recordingGateway{}
	res := process(t, gw, domain.InboundBatch{msg("C1", "xyz"), msg("C2", "geo")})
	if res != "text:C1" {
		t.Errorf("unexpected result %q", res)
	}
	if len(gw.calls) != 1 || gw.calls[0].Arg != WelcomeMenu {
		t.Errorf("expected menu reply only, got %v", gw.calls)
	}
}

func TestProcess_OggAndGroup(t *testing.T) {
	gw := &recordingGateway{}
	if res := process(t, gw, domain.InboundBatch{msg("C1", "ogg")}); res != "voice:C1" {
		t.Errorf("ogg: unexpected result %q", res)
	}

	gw = &recordingGateway{}
	batch := domain.InboundBatch{{ChatID: "C1", Author: "15550001@c.us", Body: "group please"}}
	if res := process(t, gw, batch); res != "group:15550001@c.us" {
		t.Errorf("group: unexpected result %q", res)
	}
}

func TestProcess_SkipsOwnMessage(t *testing.T) {
	gw := &recordingGateway{}
	batch := domain.InboundBatch{
		{ChatID: "C1", Body: "ogg", FromMe: true},
		{ChatID: "C2", Body: "geo"},
	}
	if res := process(t, gw, batch); res != "location:C2" {
		t.Errorf("unexpected result %q", res)
	}
	if len(gw.calls) != 1 {
		t.Errorf("expected 1 call, got %v", gw.calls)
	}
}

func TestProcess_FirstMatchWins(t *testing.T) {
	gw := &recordingGateway{}
	batch := domain.InboundBatch{msg("C1", "geo"), msg("C2", "ogg"), msg("C3", "chatid")}
	if res := process(t, gw, batch); res != "location:C1" {
		t.Errorf("unexpected result %q", res)
	}
	if len(gw.calls) != 1 {
		t.Errorf("expected exactly one call, got %v", gw.calls)
	}
}

func TestProcess_CaseInsensitive(t *testing.T) {
	for _, body := range []string{"GEO", "Geo", "geo"} {
		gw := &recordingGateway{}
		if res := process(t, gw, domain.InboundBatch{msg("C1", body)}); res != "location:C1" {
			t.Errorf("%q: unexpected result %q", body, res)
		}
	}
}

func TestProcess_Idempotent(t *testing.T) {
	gw := &recordingGateway{}
	p := New(gw, testLogger())
	batch := domain.InboundBatch{msg("C1", "file"), msg("C2", "file pdf")}

	first, err := p.Process(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Process(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("results differ: %q vs %q", first, second)
	}
}

func TestProcess_GatewayErrorPropagates(t *testing.T) {
	boom := errors.New("gateway down")
	gw := &recordingGateway{err: boom}
	_, err := New(gw, testLogger()).Process(context.Background(), domain.InboundBatch{msg("C1", "geo")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped gateway error, got %v", err)
	}
	if len(gw.calls) != 1 {
		t.Errorf("expected a single attempt, got %d", len(gw.calls))
	}
}

func TestDispatch_Outcome(t *testing.T) {
	gw := &recordingGateway{}
	out, err := New(gw, testLogger()).Dispatch(context.Background(), domain.InboundBatch{msg("C9", "file png")})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Acted || out.Command != File || out.ChatID != "C9" || out.Arg != "png" || out.Result != "file:C9" {
		t.Errorf("unexpected outcome %+v", out)
	}

	out, err = New(gw, testLogger()).Dispatch(context.Background(), domain.InboundBatch{msg("C9", " ")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Acted {
		t.Errorf("expected no action, got %+v", out)
	}
}

func TestFirst_WithoutGateway(t *testing.T) {
	batch := domain.InboundBatch{
		{ChatID: "C1", Body: "group", FromMe: true},
		msg("C2", ""),
		msg("C3", "file"),
		msg("C4", "hello there"),
	}
	a, ok := First(batch)
	if !ok {
		t.Fatal("expected an action")
	}
	if a.Command != Unrecognized || a.ChatID != "C4" || a.Text != WelcomeMenu {
		t.Errorf("unexpected action %+v", a)
	}
}
