package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"blackspire-bot/internal/config"
	"blackspire-bot/internal/counting"
	"blackspire-bot/internal/modules/audit"
	"blackspire-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func newCountingModerator(t *testing.T, channels ...string) *counting.Moderator {
	t.Helper()
	ctx := context.Background()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	m := counting.New(counting.Config{Defaults: counting.DefaultSettings(), Concurrency: 2}, store, store, zap.NewNop())
	if err := m.LoadAll(ctx, []string{"g1"}); err != nil {
		t.Fatalf("load all: %v", err)
	}
	for _, channelID := range channels {
		if _, _, err := m.Register(ctx, "g1", channelID); err != nil {
			t.Fatalf("register %s: %v", channelID, err)
		}
	}
	return m
}

type decisions struct {
	mu      sync.Mutex
	signals map[string][]counting.Signal
}

func (d *decisions) record(channelID string, sig counting.Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals[channelID] = append(d.signals[channelID], sig)
}

func TestDispatcherKeepsArrivalOrder(t *testing.T) {
	const total = 200
	m := newCountingModerator(t, "c1", "c2")
	got := &decisions{signals: make(map[string][]counting.Signal)}
	d := newDispatcher(func(sub submission) {
		got.record(sub.channelID, m.Process(context.Background(), sub.guildID, sub.channelID, sub.authorID, sub.content))
	})

	for n := 1; n <= total; n++ {
		author := fmt.Sprintf("u%d", n%2)
		for _, channelID := range []string{"c1", "c2"} {
			if !d.Submit(submission{guildID: "g1", channelID: channelID, authorID: author, content: strconv.Itoa(n)}) {
				t.Fatalf("submit %d rejected", n)
			}
		}
	}
	d.Close()

	for _, channelID := range []string{"c1", "c2"} {
		signals := got.signals[channelID]
		if len(signals) != total {
			t.Fatalf("%s: expected %d decisions, got %d", channelID, total, len(signals))
		}
		for i, sig := range signals {
			if sig.Kind != counting.Accepted || sig.Value != int64(i+1) {
				t.Fatalf("%s: decision %d was %+v", channelID, i+1, sig)
			}
		}
		channel, ok := m.Snapshot("g1", channelID)
		if !ok || channel.Count != total {
			t.Fatalf("%s: expected count %d, got %+v ok=%v", channelID, total, channel, ok)
		}
	}
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	var calls int
	d := newDispatcher(func(submission) { calls++ })
	d.Submit(submission{guildID: "g1", channelID: "c1"})
	d.Close()
	if d.Submit(submission{guildID: "g1", channelID: "c1"}) {
		t.Fatalf("expected submit after close to be refused")
	}
	d.Close()
	if calls != 1 {
		t.Fatalf("expected 1 handled submission, got %d", calls)
	}
}

func TestMessageCreateQueuesOnlyCountingChannels(t *testing.T) {
	const total = 50
	m := newCountingModerator(t, "c1")
	got := &decisions{signals: make(map[string][]counting.Signal)}
	b := &Bot{moderator: m, logger: zap.NewNop()}
	b.dispatch = newDispatcher(func(sub submission) {
		got.record(sub.channelID, m.Process(context.Background(), sub.guildID, sub.channelID, sub.authorID, sub.content))
	})

	message := func(channelID, authorID, content string, bot bool) *discordgo.MessageCreate {
		return &discordgo.MessageCreate{Message: &discordgo.Message{
			ID:        "m-" + content,
			GuildID:   "g1",
			ChannelID: channelID,
			Content:   content,
			Author:    &discordgo.User{ID: authorID, Bot: bot},
		}}
	}
	for n := 1; n <= total; n++ {
		b.onMessageCreate(nil, message("c1", fmt.Sprintf("u%d", n%2), strconv.Itoa(n), false))
		b.onMessageCreate(nil, message("other", "u9", strconv.Itoa(n), false))
		b.onMessageCreate(nil, message("c1", "bot", "999", true))
	}
	b.dispatch.Close()

	if len(got.signals["other"]) != 0 {
		t.Fatalf("unregistered channel reached the moderator: %v", got.signals["other"])
	}
	signals := got.signals["c1"]
	if len(signals) != total {
		t.Fatalf("expected %d decisions, got %d", total, len(signals))
	}
	for i, sig := range signals {
		if sig.Kind != counting.Accepted {
			t.Fatalf("decision %d was %+v", i+1, sig)
		}
	}
}

func TestNewDeliversEventsInOrder(t *testing.T) {
	b, err := New(config.Config{DiscordToken: "token"}, zap.NewNop(), nil, nil, audit.NewLogger(nil, zap.NewNop()), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !b.session.SyncEvents {
		t.Fatalf("expected gateway events to be delivered synchronously")
	}
	if b.dispatch == nil {
		t.Fatalf("expected a dispatcher")
	}
	b.dispatch.Close()
}

func TestAuditEmbed(t *testing.T) {
	b := &Bot{cfg: config.Config{
		Footer:      "footer",
		EmbedColors: config.EmbedColors{Success: 1, Warning: 2},
	}}
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	embed := b.auditEmbed(storage.AuditLog{
		GuildID:   "g1",
		UserID:    "u1",
		Level:     audit.LevelWarn,
		Event:     audit.EventReset,
		Details:   "channel=c1 expected=4 got=7",
		CreatedAt: created,
	})
	if embed.Color != 2 || embed.Title != "📝 Count resets" {
		t.Fatalf("unexpected embed %+v", embed)
	}
	if embed.Footer == nil || embed.Footer.Text != "footer" {
		t.Fatalf("missing footer")
	}
	if embed.Timestamp != created.Format(time.RFC3339) {
		t.Fatalf("unexpected timestamp %q", embed.Timestamp)
	}
	if len(embed.Fields) != 3 || embed.Fields[1].Value != "<@u1>" {
		t.Fatalf("unexpected fields %+v", embed.Fields)
	}

	embed = b.auditEmbed(storage.AuditLog{GuildID: "g1", Level: audit.LevelInfo, Event: audit.EventSetup})
	if embed.Color != 1 || len(embed.Fields) != 1 {
		t.Fatalf("unexpected info embed %+v", embed)
	}
}
