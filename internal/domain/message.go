package domain

import "time"

// InboundMessage is a single chat message delivered by the gateway webhook.
type InboundMessage struct {
	ID         string
	ChatID     string
	Author     string // sender contact, e.g. "15551234567@c.us"
	SenderName string
	Body       string
	Type       string // chat | image | ptt | location ...
	FromMe     bool   // sent by the bot's own account
	Timestamp  time.Time
}

// InboundBatch is the ordered list of messages received in one webhook call.
type InboundBatch []InboundMessage
