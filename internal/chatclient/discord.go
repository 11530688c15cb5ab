package chatclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// apiCodeUnknownChannel and apiCodeMissingAccess are the chat platform's
// numeric API error codes for a channel that no longer exists and a
// permission the bot was never granted, respectively. Classify treats both
// as permission errors; errors raised locally by the client library are
// not classified as permission errors.
const (
	apiCodeUnknownChannel = 10003
	apiCodeMissingAccess  = 50013
)

// InteractionHandler processes an inbound gateway interaction. Wired by the
// caller (typically to approval.Gate.Dispatch) via OnInteraction.
type InteractionHandler func(ctx context.Context, in Interaction) error

// GuildHandler processes a guild join or rename event.
type GuildHandler func(discordID, name string)

// GuildLeaveHandler processes a guild the bot was removed from.
type GuildLeaveHandler func(discordID string)

// DiscordClient implements ChatClient against a live Discord bot session.
type DiscordClient struct {
	session *discordgo.Session
	appID   string

	onInteraction InteractionHandler
	onGuildJoin   GuildHandler
	onGuildUpdate GuildHandler
	onGuildLeave  GuildLeaveHandler
}

// NewDiscordClient opens a gateway session authenticated with token and
// registers the guilds and guild-messages gateway intents. It also wires the gateway's InteractionCreate, GuildCreate,
// GuildUpdate, and GuildDelete events to whatever handlers are later
// registered via OnInteraction/OnGuildJoin/OnGuildUpdate/OnGuildLeave —
// dispatch checks for a handler at delivery time, so callers may register
// handlers any time before traffic starts flowing.
func NewDiscordClient(ctx context.Context, token string) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentGuildMessages

	c := &DiscordClient{session: session}
	session.AddHandler(c.dispatchInteraction)
	session.AddHandler(c.dispatchGuildCreate)
	session.AddHandler(c.dispatchGuildUpdate)
	session.AddHandler(c.dispatchGuildDelete)

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}
	c.appID = session.State.User.ID

	return c, nil
}

// OnInteraction registers the handler invoked for every inbound message
// component interaction (button click).
func (c *DiscordClient) OnInteraction(fn InteractionHandler) { c.onInteraction = fn }

// OnGuildJoin registers the handler invoked when the bot joins a guild, and
// on startup for each guild it's already a member of.
func (c *DiscordClient) OnGuildJoin(fn GuildHandler) { c.onGuildJoin = fn }

// OnGuildUpdate registers the handler invoked when a guild's name changes.
func (c *DiscordClient) OnGuildUpdate(fn GuildHandler) { c.onGuildUpdate = fn }

// OnGuildLeave registers the handler invoked when the bot is removed from a guild.
func (c *DiscordClient) OnGuildLeave(fn GuildLeaveHandler) { c.onGuildLeave = fn }

func (c *DiscordClient) dispatchInteraction(_ *discordgo.Session, e *discordgo.InteractionCreate) {
	if c.onInteraction == nil || e.Type != discordgo.InteractionMessageComponent {
		return
	}
	data := e.MessageComponentData()
	in := Interaction{
		ID:        e.Interaction.ID,
		Token:     e.Interaction.Token,
		CustomID:  data.CustomID,
		ChannelID: e.ChannelID,
		UserTag:   interactionUserTag(e.Interaction),
	}
	if err := c.onInteraction(context.Background(), in); err != nil {
		logrus.WithError(err).WithField("custom_id", in.CustomID).Error("handle interaction")
	}
}

// interactionUserTag prefers the guild member's user (present for
// guild-channel interactions) and falls back to the top-level User field
// discordgo populates for DM interactions.
func interactionUserTag(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username + "#" + i.Member.User.Discriminator
	}
	if i.User != nil {
		return i.User.Username + "#" + i.User.Discriminator
	}
	return "unknown"
}

func (c *DiscordClient) dispatchGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if c.onGuildJoin != nil {
		c.onGuildJoin(e.ID, e.Name)
	}
}

func (c *DiscordClient) dispatchGuildUpdate(_ *discordgo.Session, e *discordgo.GuildUpdate) {
	if c.onGuildUpdate != nil {
		c.onGuildUpdate(e.ID, e.Name)
	}
}

func (c *DiscordClient) dispatchGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	// An unavailable guild is a platform outage, not a removal.
	if c.onGuildLeave != nil && !e.Unavailable {
		c.onGuildLeave(e.ID)
	}
}

// Close tears down the gateway session.
func (c *DiscordClient) Close() error {
	return c.session.Close()
}

func toDiscordEmbeds(embeds []Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		de := &discordgo.MessageEmbed{
			Title:       e.Title,
			URL:         e.URL,
			Description: e.Description,
			Color:       e.Color,
			Timestamp:   e.Timestamp,
		}
		if e.Author != "" {
			de.Author = &discordgo.MessageEmbedAuthor{Name: e.Author}
		}
		if e.ImageURL != "" {
			de.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
		}
		if e.ThumbnailURL != "" {
			de.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
		}
		out = append(out, de)
	}
	return out
}

func toDiscordStyle(s ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case ButtonStyleSuccess:
		return discordgo.SuccessButton
	case ButtonStyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.PrimaryButton
	}
}

func toDiscordComponents(buttons []Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.CustomID,
			Label:    b.Label,
			Style:    toDiscordStyle(b.Style),
		})
	}
	return []discordgo.MessageComponent{row}
}

// disabledComponents renders the same buttons greyed out and inert, used
// when the approval gate edits a resolved request's message.
func disabledComponents(buttons []Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.CustomID,
			Label:    b.Label,
			Style:    toDiscordStyle(b.Style),
			Disabled: true,
		})
	}
	return []discordgo.MessageComponent{row}
}

// SendMessage posts a message to a channel or thread.
func (c *DiscordClient) SendMessage(_ context.Context, channelID string, msg Message) (*SentMessage, error) {
	sent, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toDiscordEmbeds(msg.Embeds),
		Components: toDiscordComponents(msg.Buttons),
	})
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return &SentMessage{ChannelID: channelID, MessageID: sent.ID}, nil
}

// EditMessage replaces a message's content and disables any buttons it had —
// the approval gate calls this once an operator has responded, so a second
// click can't double-resolve the request.
func (c *DiscordClient) EditMessage(_ context.Context, channelID, messageID string, msg Message) error {
	embeds := toDiscordEmbeds(msg.Embeds)
	components := disabledComponents(msg.Buttons)
	_, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Content:    &msg.Content,
		Embeds:     &embeds,
		Components: &components,
	})
	if err != nil {
		return fmt.Errorf("edit message %s in %s: %w", messageID, channelID, err)
	}
	return nil
}

// threadAutoArchiveMinutes is 3 days, the longest duration a guild without
// server boosts is still guaranteed to support.
const threadAutoArchiveMinutes = 4320

// CreateThread starts a new thread under channelID named for the event,
// stamping reason into the channel's audit log entry.
func (c *DiscordClient) CreateThread(_ context.Context, channelID, name, reason string) (string, error) {
	thread, err := c.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		Type:                discordgo.ChannelTypeGuildPublicThread,
		AutoArchiveDuration: threadAutoArchiveMinutes,
	}, discordgo.WithAuditLogReason(reason))
	if err != nil {
		return "", fmt.Errorf("create thread in %s: %w", channelID, err)
	}
	return thread.ID, nil
}

// DeferInteraction acknowledges a button click, showing a loading state
// until FollowupMessage replaces it.
func (c *DiscordClient) DeferInteraction(_ context.Context, in Interaction) error {
	err := c.session.InteractionRespond(&discordgo.Interaction{ID: in.ID, Token: in.Token}, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		return fmt.Errorf("defer interaction %s: %w", in.ID, err)
	}
	return nil
}

// FollowupMessage responds to a previously deferred interaction.
func (c *DiscordClient) FollowupMessage(_ context.Context, in Interaction, msg Message) error {
	_, err := c.session.FollowupMessageCreate(&discordgo.Interaction{ID: in.ID, Token: in.Token}, true, &discordgo.WebhookParams{
		Content: msg.Content,
		Embeds:  toDiscordEmbeds(msg.Embeds),
	})
	if err != nil {
		return fmt.Errorf("follow up interaction %s: %w", in.ID, err)
	}
	return nil
}

// RegisterCommands declares the bot's global slash commands: settings
// (guild-scoped per-series configuration, grouped as subcommands), plus
// the operator-facing check-repost, sync, and shutdown commands.
func (c *DiscordClient) RegisterCommands(_ context.Context) error {
	seriesOption := &discordgo.ApplicationCommandOption{
		Type: discordgo.ApplicationCommandOptionString, Name: "series", Description: "F1, F2, or F3", Required: true,
	}

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "settings",
			Description:              "Configure per-series notification settings for this server.",
			DefaultMemberPermissions: permManageGuild(),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-channel",
					Description: "Set the notification channel for a series.",
					Options: []*discordgo.ApplicationCommandOption{
						seriesOption,
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Destination channel", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "unset-channel",
					Description: "Clear the notification channel for a series.",
					Options:     []*discordgo.ApplicationCommandOption{seriesOption},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-role",
					Description: "Set the mention role for a series.",
					Options: []*discordgo.ApplicationCommandOption{
						seriesOption,
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Mention role", Required: true},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "use-threads",
					Description: "Toggle whether a series' documents post into per-event threads.",
					Options: []*discordgo.ApplicationCommandOption{
						seriesOption,
						{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Use threads", Required: true},
					},
				},
			},
		},
		{
			Name:        "check-repost",
			Description: "Re-send the most recent ready document for a series, bypassing the Posted gate.",
			Options:     []*discordgo.ApplicationCommandOption{seriesOption},
		},
		{Name: "sync", Description: "Resynchronize this guild's notification settings."},
		{
			Name:                     "shutdown",
			Description:              "Request a graceful shutdown of the bot process.",
			DefaultMemberPermissions: permManageGuild(),
		},
	}

	for _, cmd := range commands {
		if _, err := c.session.ApplicationCommandCreate(c.appID, "", cmd); err != nil {
			return fmt.Errorf("register command %s: %w", cmd.Name, err)
		}
	}
	return nil
}

func permManageGuild() *int64 {
	perm := int64(discordgo.PermissionManageServer)
	return &perm
}

// Classify inspects a discordgo.RESTError for the permission-error codes
// the publisher's auto-remediation reacts to and for 5xx responses, treats
// a discordgo.RateLimitError as transient, and returns ClassOther for
// everything else. No locally raised typed error maps to ClassPermission.
func (c *DiscordClient) Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case apiCodeUnknownChannel, apiCodeMissingAccess:
				return ClassPermission
			}
		}
		if restErr.Response != nil && restErr.Response.StatusCode >= 500 {
			return ClassTransient
		}
	}

	var rlErr *discordgo.RateLimitError
	if errors.As(err, &rlErr) {
		return ClassTransient
	}

	return ClassOther
}
