package domain

import "context"

// Gateway is the set of outbound actions the bot can take on the messaging gateway.
// Every call returns the gateway's textual result.
type Gateway interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
	SendFile(ctx context.Context, chatID, kind string) (string, error)
	SendVoice(ctx context.Context, chatID string) (string, error)
	SendLocation(ctx context.Context, chatID string) (string, error)
	CreateGroup(ctx context.Context, owner string) (string, error)
}
