// Package approval implements the operator approval gate: posting a new
// event for allow/deny, and resolving the operator's button click into an
// atomic database transaction.
package approval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/model"
)

// Gate posts approval requests to a fixed operator channel and resolves
// button clicks against the store.
type Gate struct {
	Store   *db.DB
	Chat    chatclient.ChatClient
	Channel string
	Mention string // optional "<@id>"/"<@&id>" appended to new requests
}

func allowButtonID(requestID int64) string { return fmt.Sprintf("allow-%d", requestID) }
func denyButtonID(requestID int64) string  { return fmt.Sprintf("deny-%d", requestID) }

// RequestApproval creates an AllowRequest for ev (if one doesn't already
// exist) and posts the operator message with Allow/Deny buttons.
func (g *Gate) RequestApproval(ctx context.Context, ev model.Event) error {
	if existing, err := g.Store.FindAllowRequestByEvent(ev.ID); err == nil && existing != nil {
		return nil
	}

	ar := model.AllowRequest{EventID: ev.ID, Response: model.AllowRequestOpen, CreatedAt: time.Now().UTC()}
	id, err := g.Store.InsertAllowRequest(&ar)
	if err != nil {
		return fmt.Errorf("insert allow request for event %d: %w", ev.ID, err)
	}

	content := fmt.Sprintf("New %s event discovered for %d: **%s**", ev.Series, ev.Year, ev.Title)
	if g.Mention != "" {
		content = content + " " + g.Mention
	}

	msg := chatclient.Message{
		Content: content,
		Buttons: []chatclient.Button{
			{CustomID: allowButtonID(id), Label: "Allow", Style: chatclient.ButtonStyleSuccess},
			{CustomID: denyButtonID(id), Label: "Deny", Style: chatclient.ButtonStyleDanger},
		},
	}

	if _, err := g.Chat.SendMessage(ctx, g.Channel, msg); err != nil {
		return fmt.Errorf("post approval request for event %d: %w", ev.ID, err)
	}
	return nil
}

// HandleInteraction resolves a button click: defers, disables the buttons,
// posts a follow-up attributing the decision, and commits the event/request
// transition atomically. A click on an already-resolved request only gets a
// follow-up saying so; the request and its event are left unchanged.
func (g *Gate) HandleInteraction(ctx context.Context, in chatclient.Interaction, requestID int64, approved bool) error {
	if err := g.Chat.DeferInteraction(ctx, in); err != nil {
		return fmt.Errorf("defer interaction for request %d: %w", requestID, err)
	}

	request, err := g.Store.FindAllowRequestByID(requestID)
	if err == nil && request != nil && request.Response != model.AllowRequestOpen {
		return g.Chat.FollowupMessage(ctx, in, chatclient.Message{
			Content: "This request has already been resolved.",
		})
	}

	disableMsg := chatclient.Message{
		Buttons: []chatclient.Button{
			{CustomID: allowButtonID(requestID), Label: "Allow", Style: chatclient.ButtonStyleSuccess},
			{CustomID: denyButtonID(requestID), Label: "Deny", Style: chatclient.ButtonStyleDanger},
		},
	}
	if err := g.Chat.EditMessage(ctx, in.ChannelID, in.ID, disableMsg); err != nil {
		return fmt.Errorf("disable buttons for request %d: %w", requestID, err)
	}

	decision := "denied"
	if approved {
		decision = "allowed"
	}
	if err := g.Chat.FollowupMessage(ctx, in, chatclient.Message{
		Content: fmt.Sprintf("Event %s by %s.", decision, in.UserTag),
	}); err != nil {
		return fmt.Errorf("post follow-up for request %d: %w", requestID, err)
	}

	ar, err := g.Store.FindAllowRequestByID(requestID)
	if err != nil || ar == nil {
		return fmt.Errorf("load allow request %d: %w", requestID, err)
	}
	if err := g.Store.ResolveAllowRequest(ar.EventID, approved, in.UserTag, time.Now().UTC()); err != nil {
		return fmt.Errorf("resolve allow request for event %d: %w", ar.EventID, err)
	}
	return nil
}

// Dispatch routes a raw gateway interaction to HandleInteraction by parsing
// its button custom ID ("allow-{id}" or "deny-{id}"). Wired as the
// DiscordClient's InteractionHandler in cmd/fianotify/main.go. Custom IDs
// it doesn't recognize are ignored rather than erroring, since other
// components may register their own interaction handling in the future.
func (g *Gate) Dispatch(ctx context.Context, in chatclient.Interaction) error {
	requestID, approved, ok := parseButtonCustomID(in.CustomID)
	if !ok {
		return nil
	}
	return g.HandleInteraction(ctx, in, requestID, approved)
}

func parseButtonCustomID(customID string) (requestID int64, approved bool, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(customID, "allow-"):
		approved, rest = true, strings.TrimPrefix(customID, "allow-")
	case strings.HasPrefix(customID, "deny-"):
		approved, rest = false, strings.TrimPrefix(customID, "deny-")
	default:
		return 0, false, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return id, approved, true
}
