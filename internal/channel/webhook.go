package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"wabot/internal/audit"
	"wabot/internal/dispatch"
	"wabot/internal/domain"
	"wabot/internal/metrics"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// Dispatcher executes the reply for an inbound batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch domain.InboundBatch) (dispatch.Outcome, error)
}

// ActionRecorder persists executed actions.
type ActionRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Host         string
	Port         int
	Path         string // webhook URL path (default: /)
	MaxBodyBytes int64
	Dispatcher   Dispatcher
	Recorder     ActionRecorder // optional
	Metrics      http.Handler   // optional, mounted on MetricsPath
	MetricsPath  string
	Logger       *slog.Logger
}

// Webhook accepts gateway webhook calls and answers each with the result of
// the action it triggered.
type Webhook struct {
	addr         string
	path         string
	maxBodyBytes int64
	dispatcher   Dispatcher
	recorder     ActionRecorder
	logger       *slog.Logger
	mux          *http.ServeMux
	server       *http.Server
}

// WebhookPayload is the JSON body the gateway posts.
type WebhookPayload struct {
	InstanceID string            `json:"instanceId"`
	Messages   []WebhookMessage  `json:"messages"`
	Ack        []json.RawMessage `json:"ack,omitempty"`
}

// WebhookMessage is one message inside a WebhookPayload.
type WebhookMessage struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	FromMe     bool   `json:"fromMe"`
	Author     string `json:"author"`
	ChatID     string `json:"chatId"`
	SenderName string `json:"senderName"`
	Type       string `json:"type"`
	Time       int64  `json:"time"` // unix seconds
}

// Batch converts the payload into the domain batch, keeping message order.
func (p WebhookPayload) Batch() domain.InboundBatch {
	batch := make(domain.InboundBatch, 0, len(p.Messages))
	for _, m := range p.Messages {
		msg := domain.InboundMessage{
			ID:         m.ID,
			ChatID:     m.ChatID,
			Author:     m.Author,
			SenderName: m.SenderName,
			Body:       m.Body,
			Type:       m.Type,
			FromMe:     m.FromMe,
		}
		if m.Time > 0 {
			msg.Timestamp = time.Unix(m.Time, 0)
		}
		batch = append(batch, msg)
	}
	return batch
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	w := &Webhook{
		addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		path:         cfg.Path,
		maxBodyBytes: cfg.MaxBodyBytes,
		dispatcher:   cfg.Dispatcher,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
		mux:          http.NewServeMux(),
	}

	w.mux.HandleFunc(w.path, w.handleWebhook)
	w.mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(rw, "ok")
	})
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		w.mux.Handle("GET "+path, cfg.Metrics)
	}
	return w
}

// Handler returns the HTTP handler serving the webhook, health and metrics routes.
func (w *Webhook) Handler() http.Handler { return w.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	rw.Header().Set(requestIDHeader, reqID)
	logger := w.logger.With("request_id", reqID)

	metrics.WebhooksTotal.Inc()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, w.maxBodyBytes))
	if err != nil {
		metrics.WebhookErrors.Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("webhook body too large", "limit", tooLarge.Limit)
			http.Error(rw, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookErrors.Inc()
		logger.Warn("webhook bad payload", "err", err)
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	batch := payload.Batch()
	metrics.MessagesReceived.Add(int64(len(batch)))
	logger.Debug("webhook received", "instance", payload.InstanceID, "messages", len(batch), "acks", len(payload.Ack))

	start := time.Now()
	out, err := w.dispatcher.Dispatch(r.Context(), batch)
	latency := time.Since(start)

	if out.Acted {
		metrics.Actions(out.Command.String()).Inc()
		w.record(r.Context(), logger, reqID, out, err, latency)
	}

	if err != nil {
		metrics.WebhookErrors.Inc()
		logger.Error("dispatch failed", "command", out.Command.String(), "chat_id", out.ChatID, "err", err)
		http.Error(rw, "Bad Gateway", http.StatusBadGateway)
		return
	}

	if out.Acted {
		logger.Info("reply sent", "command", out.Command.String(), "chat_id", out.ChatID,
			"latency_ms", latency.Milliseconds())
	}

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, out.Result)
}

func (w *Webhook) record(ctx context.Context, logger *slog.Logger, reqID string, out dispatch.Outcome, dispatchErr error, latency time.Duration) {
	if w.recorder == nil {
		return
	}
	entry := audit.Entry{
		RequestID: reqID,
		ChatID:    out.ChatID,
		Command:   out.Command.String(),
		Arg:       out.Arg,
		Status:    audit.StatusOK,
		LatencyMs: latency.Milliseconds(),
	}
	if dispatchErr != nil {
		entry.Status = audit.StatusFailed
		entry.Error = dispatchErr.Error()
	}
	if err := w.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("action log write failed", "err", err)
		return
	}
	metrics.ActionLogEntries(entry.Status).Inc()
}
