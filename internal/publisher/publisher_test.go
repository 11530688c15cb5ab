package publisher

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ortdev/fianotify/internal/approval"
	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/model"
	"github.com/ortdev/fianotify/internal/shutdown"
	"github.com/ortdev/fianotify/internal/telemetry"
)

type fakeChat struct {
	mu          sync.Mutex
	sentByChan  map[string]int
	created     map[string]string
	failSend    map[string]bool
	classifyErr chatclient.ErrorClass
}

func newFakeChat() *fakeChat {
	return &fakeChat{sentByChan: map[string]int{}, created: map[string]string{}, failSend: map[string]bool{}}
}

func (f *fakeChat) SendMessage(_ context.Context, channelID string, _ chatclient.Message) (*chatclient.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[channelID] {
		return nil, errSendFailed
	}
	f.sentByChan[channelID]++
	return &chatclient.SentMessage{ChannelID: channelID, MessageID: "m"}, nil
}

func (f *fakeChat) EditMessage(context.Context, string, string, chatclient.Message) error { return nil }

func (f *fakeChat) CreateThread(_ context.Context, channelID, name, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	threadID := "thread-for-" + name
	f.created[channelID] = threadID
	return threadID, nil
}

func (f *fakeChat) DeferInteraction(context.Context, chatclient.Interaction) error { return nil }

func (f *fakeChat) FollowupMessage(context.Context, chatclient.Interaction, chatclient.Message) error {
	return nil
}
func (f *fakeChat) RegisterCommands(context.Context) error { return nil }
func (f *fakeChat) Classify(error) chatclient.ErrorClass   { return f.classifyErr }

type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

var errSendFailed = &sentinelError{msg: "send failed"}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() }) //nolint:errcheck
	return d
}

func newTestPublisher(t *testing.T, chat *fakeChat, ageOutDays int) *Publisher {
	t.Helper()
	store := openTestDB(t)
	gate := &approval.Gate{Store: store, Chat: chat, Channel: "ops"}
	return New(store, chat, gate, shutdown.New(), telemetry.NewLogrusSink("", nil), ageOutDays)
}

func channelPtr(s string) *string { return &s }

// subscribeF1 points discordID's F1 notifications at channel with threads on
// or off. InsertGuild stores no per-series settings, so tests set them here.
func subscribeF1(t *testing.T, store *db.DB, discordID, channel string, threads bool) {
	t.Helper()
	require.NoError(t, store.SetSeriesChannel(discordID, model.SeriesF1, channelPtr(channel)))
	flag := 0
	if threads {
		flag = 1
	}
	_, err := store.Conn().Exec(`UPDATE guilds SET f1_threads = ? WHERE discord_id = ?`, flag, discordID)
	require.NoError(t, err)
}

func TestDiscoverGatesOpensOneRequestPerEvent(t *testing.T) {
	chat := newFakeChat()
	p := newTestPublisher(t, chat, 10)

	ev := model.Event{Title: "Bahrain Grand Prix", Year: 2026, Series: model.SeriesF1, Status: model.EventNotAllowed, CreatedAt: time.Now()}
	id, err := p.Store.InsertEvent(&ev)
	require.NoError(t, err)

	p.discoverGates(context.Background())
	p.discoverGates(context.Background())

	ar, err := p.Store.FindAllowRequestByEvent(id)
	require.NoError(t, err)
	require.NotNil(t, ar)
	require.Equal(t, 1, chat.sentByChan["ops"])
}

func TestDeliverEventSendsToSubscribedGuildChannel(t *testing.T) {
	chat := newFakeChat()
	p := newTestPublisher(t, chat, 10)

	evID, _ := seedAllowedEventWithDocument(t, p.Store, model.SeriesF1)

	guild := model.Guild{DiscordID: "g1", Name: "Guild One", JoinedAt: time.Now()}
	_, err := p.Store.InsertGuild(&guild)
	require.NoError(t, err)
	subscribeF1(t, p.Store, "g1", "chan-1", false)

	ev, err := p.Store.GetEvent(evID)
	require.NoError(t, err)
	p.deliverEvent(context.Background(), *ev)

	require.Equal(t, 1, chat.sentByChan["chan-1"])

	doc, err := p.Store.FindDocumentByHref("https://www.fia.com/entry-list.pdf")
	require.NoError(t, err)
	require.Equal(t, model.DocumentPosted, doc.Status)
}

func TestDeliverEventCreatesThreadWhenEnabled(t *testing.T) {
	chat := newFakeChat()
	p := newTestPublisher(t, chat, 10)

	evID, _ := seedAllowedEventWithDocument(t, p.Store, model.SeriesF1)

	guild := model.Guild{DiscordID: "g1", Name: "Guild One", JoinedAt: time.Now()}
	gid, err := p.Store.InsertGuild(&guild)
	require.NoError(t, err)
	guild.ID = gid
	subscribeF1(t, p.Store, "g1", "chan-1", true)

	ev, err := p.Store.GetEvent(evID)
	require.NoError(t, err)
	p.deliverEvent(context.Background(), *ev)

	th, err := p.Store.FindThread(gid, evID)
	require.NoError(t, err)
	require.NotNil(t, th)
	require.Equal(t, chat.created["chan-1"], th.ChannelID)
}

func TestAgeOutMarksEventPostedButStillDelivers(t *testing.T) {
	chat := newFakeChat()
	p := newTestPublisher(t, chat, 10)

	ev := model.Event{
		Title: "Old Grand Prix", Year: 2026, Series: model.SeriesF1,
		Status: model.EventAllowed, CreatedAt: time.Now().Add(-11 * 24 * time.Hour),
	}
	id, err := p.Store.InsertEvent(&ev)
	require.NoError(t, err)
	ev.ID = id

	doc := model.Document{EventID: id, Title: "Bulletin", Href: "https://www.fia.com/old.pdf", Status: model.DocumentReadyToPost}
	_, err = p.Store.InsertDocument(&doc)
	require.NoError(t, err)

	guild := model.Guild{DiscordID: "g1", Name: "Guild One", JoinedAt: time.Now()}
	_, err = p.Store.InsertGuild(&guild)
	require.NoError(t, err)
	subscribeF1(t, p.Store, "g1", "chan-1", false)

	p.Tick(context.Background())

	got, err := p.Store.GetEvent(id)
	require.NoError(t, err)
	require.Equal(t, model.EventPosted, got.Status)
	require.Equal(t, 1, chat.sentByChan["chan-1"], "age-out tick still delivers the ready document")
}

func TestPermissionErrorClearsGuildSettings(t *testing.T) {
	chat := newFakeChat()
	chat.classifyErr = chatclient.ClassPermission
	chat.failSend["chan-1"] = true
	p := newTestPublisher(t, chat, 10)

	evID, _ := seedAllowedEventWithDocument(t, p.Store, model.SeriesF1)

	guild := model.Guild{DiscordID: "g1", Name: "Guild One", JoinedAt: time.Now()}
	_, err := p.Store.InsertGuild(&guild)
	require.NoError(t, err)
	subscribeF1(t, p.Store, "g1", "chan-1", false)

	ev, err := p.Store.GetEvent(evID)
	require.NoError(t, err)
	p.deliverEvent(context.Background(), *ev)

	got, err := p.Store.FindGuildByDiscordID("g1")
	require.NoError(t, err)
	require.Nil(t, got.F1.Channel)
}

func seedAllowedEventWithDocument(t *testing.T, store *db.DB, series model.Series) (eventID, docID int64) {
	t.Helper()
	ev := model.Event{Title: "Bahrain Grand Prix", Year: 2026, Series: series, Status: model.EventAllowed, CreatedAt: time.Now()}
	id, err := store.InsertEvent(&ev)
	require.NoError(t, err)

	doc := model.Document{EventID: id, Title: "Entry List", Href: "https://www.fia.com/entry-list.pdf", Status: model.DocumentReadyToPost}
	did, err := store.InsertDocument(&doc)
	require.NoError(t, err)

	return id, did
}
