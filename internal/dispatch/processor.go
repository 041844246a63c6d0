package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"wabot/internal/domain"
)

// Action is the single outbound call chosen for a batch.
type Action struct {
	Command Command
	ChatID  string
	Author  string
	Arg     string // file kind for File
	Text    string // reply text for ChatID and Unrecognized
}

// Outcome describes what a Dispatch call did.
type Outcome struct {
	Acted   bool
	Command Command
	ChatID  string
	Arg     string
	Result  string
}

// Plan decides what to do with one message. The second return is false when
// the message must be skipped: sent by the bot itself, empty body, or a file
// command without a kind.
func Plan(msg domain.InboundMessage) (Action, bool) {
	if msg.FromMe {
		return Action{}, false
	}
	cmd := ParseCommand(msg.Body)
	if cmd == nil {
		return Action{}, false
	}

	a := Action{Command: cmd.Command, ChatID: msg.ChatID, Author: msg.Author}
	switch cmd.Command {
	case ChatID:
		a.Text = chatIDText(msg.ChatID)
	case File:
		if len(cmd.Args) == 0 {
			return Action{}, false
		}
		a.Arg = cmd.Arg(0)
	case Unrecognized:
		a.Text = WelcomeMenu
	}
	return a, true
}

// First returns the action for the first actionable message in batch order.
func First(batch domain.InboundBatch) (Action, bool) {
	for _, msg := range batch {
		if a, ok := Plan(msg); ok {
			return a, true
		}
	}
	return Action{}, false
}

// Execute performs the action against the gateway.
func (a Action) Execute(ctx context.Context, gw domain.Gateway) (string, error) {
	switch a.Command {
	case ChatID, Unrecognized:
		return gw.SendText(ctx, a.ChatID, a.Text)
	case File:
		return gw.SendFile(ctx, a.ChatID, a.Arg)
	case Ogg:
		return gw.SendVoice(ctx, a.ChatID)
	case Geo:
		return gw.SendLocation(ctx, a.ChatID)
	case Group:
		return gw.CreateGroup(ctx, a.Author)
	default:
		return "", fmt.Errorf("unknown command %d", a.Command)
	}
}

// Processor turns an inbound batch into at most one gateway call.
// It holds no per-request state and is safe for concurrent use.
type Processor struct {
	gateway domain.Gateway
	logger  *slog.Logger
}

func New(gw domain.Gateway, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{gateway: gw, logger: logger}
}

// Dispatch executes the first actionable message of batch. When nothing in
// the batch is actionable it returns a zero Outcome and no error.
func (p *Processor) Dispatch(ctx context.Context, batch domain.InboundBatch) (Outcome, error) {
	a, ok := First(batch)
	if !ok {
		p.logger.Debug("no actionable message", "batch_size", len(batch))
		return Outcome{}, nil
	}

	out := Outcome{Acted: true, Command: a.Command, ChatID: a.ChatID, Arg: a.Arg}
	p.logger.Info("dispatching command", "command", a.Command.String(), "chat_id", a.ChatID)

	result, err := a.Execute(ctx, p.gateway)
	if err != nil {
		return out, fmt.Errorf("dispatch %s: %w", a.Command, err)
	}
	out.Result = result
	return out, nil
}

// Process returns the result text of the executed action, or "" when the
// batch held nothing actionable.
func (p *Processor) Process(ctx context.Context, batch domain.InboundBatch) (string, error) {
	out, err := p.Dispatch(ctx, batch)
	if err != nil {
		return "", err
	}
	return out.Result, nil
}
