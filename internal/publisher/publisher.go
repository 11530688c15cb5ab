// Package publisher implements the Publisher loop: discovers events needing
// operator approval, ages out stale allowed events, and fans out ready
// documents to every subscribed guild.
package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ortdev/fianotify/internal/approval"
	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/message"
	"github.com/ortdev/fianotify/internal/model"
	"github.com/ortdev/fianotify/internal/shutdown"
	"github.com/ortdev/fianotify/internal/telemetry"
)

// fanOutChunkSize bounds how many guild deliveries run concurrently at once.
const fanOutChunkSize = 30

// tickSleep is the Publisher's fixed inter-tick delay.
const tickSleep = 5 * time.Second

// threadCreateReason is the audit-log reason stamped on every per-event
// thread this loop creates.
const threadCreateReason = "New Approved FIA Event"

// Publisher runs the gate-discovery, age-out, and fan-out steps each tick.
type Publisher struct {
	Store     *db.DB
	Chat      chatclient.ChatClient
	Gate      *approval.Gate
	Shutdown  *shutdown.Flag
	Telemetry telemetry.Sink

	AgeOutDays int
}

// New builds a Publisher.
func New(store *db.DB, chat chatclient.ChatClient, gate *approval.Gate, sd *shutdown.Flag, sink telemetry.Sink, ageOutDays int) *Publisher {
	return &Publisher{Store: store, Chat: chat, Gate: gate, Shutdown: sd, Telemetry: sink, AgeOutDays: ageOutDays}
}

// Run executes ticks until the shutdown flag is set.
func (p *Publisher) Run(ctx context.Context) error {
	for !p.Shutdown.Requested() {
		p.Tick(ctx)
		p.sleepPollingShutdown(tickSleep)
	}
	return nil
}

func (p *Publisher) sleepPollingShutdown(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if p.Shutdown.Requested() {
			return
		}
		step := 200 * time.Millisecond
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		if step > 0 {
			time.Sleep(step)
		}
	}
}

// Tick runs one full pass: gate discovery, age-out, fan-out.
func (p *Publisher) Tick(ctx context.Context) {
	if p.Shutdown.Requested() {
		return
	}
	p.discoverGates(ctx)

	if p.Shutdown.Requested() {
		return
	}
	allowed, err := p.Store.ListEventsByStatus(model.EventAllowed)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list allowed events: %w", err), nil)
		return
	}

	for _, ev := range allowed {
		if p.Shutdown.Requested() {
			return
		}
		p.ageOutIfStale(ev)
	}

	// Re-load: age-out above may have just set some events to Posted, and
	// those still deliver their ready documents on this same tick.
	allowed, err = p.Store.ListEventsByStatus(model.EventAllowed)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list allowed events: %w", err), nil)
		return
	}
	posted, err := p.Store.ListEventsByStatus(model.EventPosted)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list posted events: %w", err), nil)
		return
	}

	for _, ev := range append(allowed, posted...) {
		if p.Shutdown.Requested() {
			return
		}
		p.deliverEvent(ctx, ev)
	}
}

// discoverGates finds NotAllowed events with no AllowRequest yet and opens one.
func (p *Publisher) discoverGates(ctx context.Context) {
	events, err := p.Store.ListEventsByStatus(model.EventNotAllowed)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list not-allowed events: %w", err), nil)
		return
	}
	for _, ev := range events {
		if p.Shutdown.Requested() {
			return
		}
		if err := p.Gate.RequestApproval(ctx, ev); err != nil {
			p.Telemetry.Capture(fmt.Errorf("request approval for event %d: %w", ev.ID, err), map[string]string{"event_id": fmt.Sprint(ev.ID)})
		}
	}
}

// ageOutIfStale marks an Allowed ev Posted once more than AgeOutDays have
// passed since its CreatedAt. Its ready documents still deliver this tick,
// since Tick delivers for Posted events as well as Allowed ones.
func (p *Publisher) ageOutIfStale(ev model.Event) {
	if time.Since(ev.CreatedAt) <= time.Duration(p.AgeOutDays)*24*time.Hour {
		return
	}
	if err := p.Store.UpdateEventStatus(ev.ID, model.EventPosted); err != nil {
		p.Telemetry.Capture(fmt.Errorf("age out event %d: %w", ev.ID, err), map[string]string{"event_id": fmt.Sprint(ev.ID)})
	}
}

// queuedGuild is one guild's materialized delivery destination for an event.
type queuedGuild struct {
	guild     model.Guild
	channelID string
}

func (p *Publisher) deliverEvent(ctx context.Context, ev model.Event) {
	docs, err := p.Store.ListDocumentsForDelivery(ev.ID, model.DocumentReadyToPost)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list ready documents for event %d: %w", ev.ID, err), map[string]string{"event_id": fmt.Sprint(ev.ID)})
		return
	}
	if len(docs) == 0 {
		return
	}

	guilds, err := p.Store.ListGuildsSubscribedTo(ev.Series)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list guilds for %s: %w", ev.Series, err), nil)
		return
	}
	if len(guilds) == 0 {
		return
	}

	queued := p.materializeGuilds(ctx, ev, guilds)
	if len(queued) == 0 {
		return
	}

	for _, doc := range docs {
		if p.Shutdown.Requested() {
			return
		}
		p.deliverDocument(ctx, ev, doc, queued)
	}
}

// materializeGuilds resolves each subscribed guild's delivery destination —
// its configured channel, or a freshly created/looked-up thread — in
// bounded-parallelism chunks.
func (p *Publisher) materializeGuilds(ctx context.Context, ev model.Event, guilds []model.Guild) []queuedGuild {
	queued := make([]queuedGuild, 0, len(guilds))
	var mu sync.Mutex

	forEachChunk(guilds, fanOutChunkSize, func(chunk []model.Guild) {
		var wg sync.WaitGroup
		for _, g := range chunk {
			g := g
			wg.Add(1)
			go func() {
				defer wg.Done()
				dest, ok := p.resolveDestination(ctx, ev, g)
				if !ok {
					return
				}
				mu.Lock()
				queued = append(queued, queuedGuild{guild: g, channelID: dest})
				mu.Unlock()
			}()
		}
		wg.Wait()
	})

	return queued
}

func (p *Publisher) resolveDestination(ctx context.Context, ev model.Event, g model.Guild) (string, bool) {
	settings := g.SettingsFor(ev.Series)
	if settings.Channel == nil {
		return "", false
	}
	if !settings.Threads {
		return *settings.Channel, true
	}

	if th, err := p.Store.FindThread(g.ID, ev.ID); err == nil && th != nil {
		return th.ChannelID, true
	}

	threadID, err := p.Chat.CreateThread(ctx, *settings.Channel, message.ThreadName(ev), threadCreateReason)
	if err != nil {
		p.handleChatError(g, ev.Series, err)
		return "", false
	}

	th := model.Thread{DiscordID: threadID, ChannelID: threadID, EventID: ev.ID, GuildID: g.ID, CreatedAt: time.Now().UTC()}
	if _, err := p.Store.InsertThread(&th); err != nil {
		p.Telemetry.Capture(fmt.Errorf("record thread for guild %d event %d: %w", g.ID, ev.ID, err), map[string]string{"guild_id": fmt.Sprint(g.ID)})
		return *settings.Channel, true
	}
	return threadID, true
}

func (p *Publisher) deliverDocument(ctx context.Context, ev model.Event, doc model.Document, queued []queuedGuild) {
	// Mark Posted before fan-out so a crash mid-delivery can't cause the
	// same document to be re-delivered from scratch on the next tick.
	if err := p.Store.UpdateDocumentStatus(doc.ID, model.DocumentPosted); err != nil {
		p.Telemetry.Capture(fmt.Errorf("mark document %d posted: %w", doc.ID, err), nil)
		return
	}

	images, err := p.Store.ListImagesByDocument(doc.ID)
	if err != nil {
		p.Telemetry.Capture(fmt.Errorf("list images for document %d: %w", doc.ID, err), nil)
		images = nil
	}

	forEachChunk(queued, fanOutChunkSize, func(chunk []queuedGuild) {
		var wg sync.WaitGroup
		for _, q := range chunk {
			q := q
			wg.Add(1)
			go func() {
				defer wg.Done()
				settings := q.guild.SettingsFor(ev.Series)
				msg := message.BuildDocument(ev, doc, images, settings.Role)
				if _, err := p.Chat.SendMessage(ctx, q.channelID, msg); err != nil {
					p.handleChatError(q.guild, ev.Series, err)
				}
			}()
		}
		wg.Wait()
	})
}

// handleChatError classifies a chat-platform error and, for permission
// errors, clears the guild's settings for this series so the publisher
// stops retrying a destination it no longer has access to.
func (p *Publisher) handleChatError(g model.Guild, series model.Series, err error) {
	class := p.Chat.Classify(err)
	if class != chatclient.ClassPermission {
		p.Telemetry.Capture(fmt.Errorf("deliver to guild %d: %w", g.ID, err), map[string]string{"guild_id": fmt.Sprint(g.ID)})
		return
	}
	if clearErr := p.Store.ClearGuildSettings(g.DiscordID, series); clearErr != nil {
		logrus.WithError(clearErr).WithField("guild_id", g.ID).Error("publisher: clear guild settings after permission error")
	}
}

func forEachChunk[T any](items []T, size int, fn func(chunk []T)) {
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		fn(items[i:end])
	}
}
