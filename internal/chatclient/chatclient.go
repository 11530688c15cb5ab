// Package chatclient abstracts the chat-platform collaborator (Discord) the
// publisher and approval gate post through: a narrow contract, one real
// implementation, and a no-op fallback that fails loudly instead of
// panicking when credentials are missing.
package chatclient

import "context"

// Embed is a single rich-content block within a message.
type Embed struct {
	Title       string
	URL         string
	Description string
	Color       int
	ImageURL    string
	ThumbnailURL string
	Author      string
	Timestamp   string // RFC3339, empty to omit
}

// Button is a single interactive component attached to a message.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// ButtonStyle mirrors the chat platform's button color semantics.
type ButtonStyle int

const (
	ButtonStylePrimary ButtonStyle = iota
	ButtonStyleSuccess
	ButtonStyleDanger
)

// Message is the content of an outbound or edited message.
type Message struct {
	Content string
	Embeds  []Embed
	Buttons []Button
}

// SentMessage identifies a message once delivered.
type SentMessage struct {
	ChannelID string
	MessageID string
}

// Interaction identifies an inbound button click the approval gate must
// acknowledge and eventually follow up on.
type Interaction struct {
	ID        string
	Token     string
	CustomID  string
	ChannelID string
	UserTag   string // e.g. "operator#1234", used as AllowRequest.ApprovedBy
}

// ErrorClass buckets a chat-platform error so callers can decide whether to
// retry, give up, or clear stale settings.
type ErrorClass int

const (
	// ClassOther is any error not recognized as permission or transient.
	ClassOther ErrorClass = iota
	// ClassPermission means the bot's access to a channel/guild was revoked
	// or never granted — the caller should clear that destination's settings.
	ClassPermission
	// ClassTransient means the request can be retried later (rate limit,
	// gateway hiccup, 5xx).
	ClassTransient
)

// ChatClient is the narrow contract the publisher and approval gate drive
// the chat platform through.
type ChatClient interface {
	// SendMessage posts a message to a channel (or thread) and returns its ID.
	SendMessage(ctx context.Context, channelID string, msg Message) (*SentMessage, error)

	// EditMessage replaces a previously sent message's content, typically to
	// disable its buttons once the approval gate has resolved it.
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error

	// CreateThread starts a new thread under a channel for one event,
	// stamping reason into the channel's audit log, and returns the
	// thread's channel ID.
	CreateThread(ctx context.Context, channelID, name, reason string) (threadID string, err error)

	// DeferInteraction acknowledges a button click so the chat platform
	// doesn't show it as failed while the approval gate processes it.
	DeferInteraction(ctx context.Context, in Interaction) error

	// FollowupMessage sends a response to a deferred interaction.
	FollowupMessage(ctx context.Context, in Interaction, msg Message) error

	// RegisterCommands declares the bot's slash commands with the platform.
	RegisterCommands(ctx context.Context) error

	// Classify buckets an error returned by any of the above methods.
	Classify(err error) ErrorClass
}
