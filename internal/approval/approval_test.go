package approval

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ortdev/fianotify/internal/chatclient"
	"github.com/ortdev/fianotify/internal/db"
	"github.com/ortdev/fianotify/internal/model"
)

type fakeChat struct {
	mu       sync.Mutex
	sent     []chatclient.Message
	edited   []chatclient.Message
	followup []chatclient.Message
	deferred int
}

func (f *fakeChat) SendMessage(_ context.Context, _ string, msg chatclient.Message) (*chatclient.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return &chatclient.SentMessage{ChannelID: "chan", MessageID: "msg-1"}, nil
}

func (f *fakeChat) EditMessage(_ context.Context, _, _ string, msg chatclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, msg)
	return nil
}

func (f *fakeChat) CreateThread(_ context.Context, _, _, _ string) (string, error) {
	return "thread-1", nil
}

func (f *fakeChat) DeferInteraction(_ context.Context, _ chatclient.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deferred++
	return nil
}

func (f *fakeChat) FollowupMessage(_ context.Context, _ chatclient.Interaction, msg chatclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followup = append(f.followup, msg)
	return nil
}

func (f *fakeChat) RegisterCommands(_ context.Context) error { return nil }
func (f *fakeChat) Classify(_ error) chatclient.ErrorClass    { return chatclient.ClassOther }

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() }) //nolint:errcheck
	return d
}

func TestRequestApprovalPostsButtonsOnce(t *testing.T) {
	store := openTestDB(t)
	chat := &fakeChat{}
	g := &Gate{Store: store, Chat: chat, Channel: "ops-channel"}

	ev := model.Event{Title: "Bahrain Grand Prix", Year: 2026, Series: model.SeriesF1, Status: model.EventNotAllowed}
	id, err := store.InsertEvent(&ev)
	require.NoError(t, err)
	ev.ID = id

	require.NoError(t, g.RequestApproval(context.Background(), ev))
	require.NoError(t, g.RequestApproval(context.Background(), ev))

	require.Len(t, chat.sent, 1)
	require.Len(t, chat.sent[0].Buttons, 2)
	require.Equal(t, chatclient.ButtonStyleSuccess, chat.sent[0].Buttons[0].Style)
}

func TestHandleInteractionApprovesAndLocksEvent(t *testing.T) {
	store := openTestDB(t)
	chat := &fakeChat{}
	g := &Gate{Store: store, Chat: chat, Channel: "ops-channel"}

	ev := model.Event{Title: "Monaco Grand Prix", Year: 2026, Series: model.SeriesF1, Status: model.EventNotAllowed}
	id, err := store.InsertEvent(&ev)
	require.NoError(t, err)
	ev.ID = id
	require.NoError(t, g.RequestApproval(context.Background(), ev))

	ar, err := store.FindAllowRequestByEvent(ev.ID)
	require.NoError(t, err)

	in := chatclient.Interaction{ID: "int-1", ChannelID: "ops-channel", UserTag: "operator#1"}
	require.NoError(t, g.HandleInteraction(context.Background(), in, ar.ID, true))

	require.Equal(t, 1, chat.deferred)
	require.Len(t, chat.edited, 1)
	require.Len(t, chat.followup, 1)

	got, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, model.EventAllowed, got.Status)

	resolved, err := store.FindAllowRequestByID(ar.ID)
	require.NoError(t, err)
	require.Equal(t, model.AllowRequestAllowed, resolved.Response)
	require.NotNil(t, resolved.ApprovedBy)
	require.Equal(t, "operator#1", *resolved.ApprovedBy)
}

func TestHandleInteractionSecondClickIsNoOp(t *testing.T) {
	store := openTestDB(t)
	chat := &fakeChat{}
	g := &Gate{Store: store, Chat: chat, Channel: "ops-channel"}

	ev := model.Event{Title: "Imola Grand Prix", Year: 2026, Series: model.SeriesF1, Status: model.EventNotAllowed}
	id, err := store.InsertEvent(&ev)
	require.NoError(t, err)
	ev.ID = id
	require.NoError(t, g.RequestApproval(context.Background(), ev))

	ar, err := store.FindAllowRequestByEvent(ev.ID)
	require.NoError(t, err)

	in := chatclient.Interaction{ID: "int-1", ChannelID: "ops-channel", UserTag: "operator#1"}
	require.NoError(t, g.HandleInteraction(context.Background(), in, ar.ID, true))
	require.NoError(t, g.HandleInteraction(context.Background(), in, ar.ID, false))

	got, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, model.EventAllowed, got.Status, "second click must not flip an already-resolved event")
}

func TestDispatchRoutesAllowAndDenyCustomIDs(t *testing.T) {
	store := openTestDB(t)
	chat := &fakeChat{}
	g := &Gate{Store: store, Chat: chat, Channel: "ops-channel"}

	ev := model.Event{Title: "Spa Grand Prix", Year: 2026, Series: model.SeriesF1, Status: model.EventNotAllowed}
	id, err := store.InsertEvent(&ev)
	require.NoError(t, err)
	ev.ID = id
	require.NoError(t, g.RequestApproval(context.Background(), ev))

	ar, err := store.FindAllowRequestByEvent(ev.ID)
	require.NoError(t, err)

	in := chatclient.Interaction{
		ID:        "int-1",
		ChannelID: "ops-channel",
		UserTag:   "operator#1",
		CustomID:  "deny-" + itoa(ar.ID),
	}
	require.NoError(t, g.Dispatch(context.Background(), in))

	got, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, model.EventDenied, got.Status)
}

func TestDispatchIgnoresUnrecognizedCustomID(t *testing.T) {
	store := openTestDB(t)
	chat := &fakeChat{}
	g := &Gate{Store: store, Chat: chat, Channel: "ops-channel"}

	in := chatclient.Interaction{ID: "int-1", ChannelID: "ops-channel", CustomID: "check-repost"}
	require.NoError(t, g.Dispatch(context.Background(), in))
	require.Zero(t, chat.deferred, "an unrecognized custom ID must not be treated as an allow/deny click")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
