package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"dayline/app/core/checklist"
	"dayline/app/core/interaction/telegram"
	"dayline/app/core/pending"
	"dayline/app/core/rollover"
	"dayline/app/core/store"
	synceng "dayline/app/core/sync"
	"dayline/app/core/tags"
	"dayline/app/core/widgets"
	"dayline/app/pkg/types/typestest"
)

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T) (*Dispatcher, *typestest.FakePlatform, *store.Cache) {
	t.Helper()
	db, err := store.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	records := store.NewRecords(db)
	cache := store.NewCache(records)
	platform := typestest.NewFakePlatform()

	clock := func() time.Time { return testNow }
	widgetSvc := widgets.New(platform, cache).WithClock(clock)
	tagMgr := tags.New(platform, cache)
	workflow := pending.New(platform, cache, tagMgr, widgetSvc)
	t.Cleanup(workflow.Stop)
	rolloverEng := rollover.NewEngine(platform, cache, tagMgr, widgetSvc, t.TempDir()).WithClock(clock)

	d := NewDispatcher(platform, cache, synceng.New(cache), workflow, widgetSvc, rolloverEng).WithClock(clock)
	return d, platform, cache
}

func message(chatID, messageID int64, text string) telegram.BusinessMessage {
	return telegram.BusinessMessage{
		ChatID:         chatID,
		MessageID:      messageID,
		BusinessConnID: "conn",
		Text:           text,
	}
}

func idleRecord(t *testing.T, cache *store.Cache) *checklist.UserRecord {
	t.Helper()
	rec := checklist.NewUserRecord(1, "conn")
	rec.Phase = checklist.PhaseIdle
	rec.StatedTime = "12:00"
	rec.Date = "2026-08-31"
	if err := cache.Put(rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestFirstMessageStartsOnboarding(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)

	d.HandleMessage(context.Background(), message(1, 10, "hello"))

	rec, err := cache.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Phase != checklist.PhaseAwaitingTime {
		t.Errorf("phase = %s", rec.Phase)
	}
	if len(platform.Texts) != 2 || !strings.Contains(platform.Texts[1].Text, "HH:MM") {
		t.Errorf("welcome texts = %+v", platform.Texts)
	}
	if !platform.WasDeleted(10) {
		t.Error("triggering message not deleted")
	}
}

func TestTimeInputFinishesOnboarding(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)

	d.HandleMessage(context.Background(), message(1, 10, "hello"))
	welcomeIDs := []int64{platform.Texts[0].MessageID, platform.Texts[1].MessageID}

	d.HandleMessage(context.Background(), message(1, 11, "9:30"))

	rec, err := cache.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Phase != checklist.PhaseIdle || rec.StatedTime != "09:30" {
		t.Errorf("phase=%s time=%s", rec.Phase, rec.StatedTime)
	}
	if rec.TimezoneOffsetMinutes != -150 {
		t.Errorf("offset = %d, want -150", rec.TimezoneOffsetMinutes)
	}
	if rec.Date != "2026-08-31" || rec.LastOpenedDate != rec.Date {
		t.Errorf("dates: %s %s", rec.Date, rec.LastOpenedDate)
	}
	if rec.LastClosedDate != "" {
		t.Errorf("onboarding day pre-marked closed: %s", rec.LastClosedDate)
	}
	if rec.NextRolloverTimerID == "" {
		t.Error("midnight timer not armed")
	}
	if !rec.Daily.Live() {
		t.Fatal("first checklist not created")
	}
	w := platform.Widgets[rec.Daily.MessageID]
	if len(w.Items) != 1 || w.Items[0].Text != widgets.SeedTaskText {
		t.Errorf("first checklist = %+v", w.Items)
	}
	for _, id := range append(welcomeIDs, 11) {
		if !platform.WasDeleted(id) {
			t.Errorf("service message %d not cleaned up", id)
		}
	}
	if len(rec.PendingServiceMessageIDs) != 0 {
		t.Errorf("service ids = %v", rec.PendingServiceMessageIDs)
	}
}

func TestBadTimeInputKeepsAwaiting(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)

	d.HandleMessage(context.Background(), message(1, 10, "hello"))
	d.HandleMessage(context.Background(), message(1, 11, "half past nine"))

	rec, _ := cache.Get(1)
	if rec.Phase != checklist.PhaseAwaitingTime {
		t.Errorf("phase = %s", rec.Phase)
	}
	if !strings.Contains(platform.LastText().Text, "HH:MM") {
		t.Errorf("error notice = %+v", platform.LastText())
	}
}

func TestCaptureThenTagSelectCallback(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	idleRecord(t, cache)

	d.HandleMessage(context.Background(), message(1, 20, "send report"))

	rec, _ := cache.Get(1)
	if rec.Phase != checklist.PhaseAwaitingTag || rec.PendingText != "send report" {
		t.Fatalf("capture failed: phase=%s pending=%q", rec.Phase, rec.PendingText)
	}
	promptID := platform.LastText().MessageID

	d.HandleCallback(context.Background(), telegram.CallbackQuery{
		ID: "cb1", ChatID: 1, MessageID: promptID, BusinessConnID: "conn",
		Data: pending.CallbackTagSelect + "#work",
	})

	rec, _ = cache.Get(1)
	tc := rec.Tag("#work")
	if tc == nil || len(tc.Tasks) != 1 || tc.Tasks[0].Text != "send report" {
		t.Fatalf("tag checklist = %+v", tc)
	}
	if !platform.WasDeleted(20) || !platform.WasDeleted(promptID) {
		t.Errorf("scratch messages kept: deleted=%v", platform.Deleted)
	}
	if len(platform.Answered) != 1 || platform.Answered[0] != "cb1" {
		t.Errorf("callback not answered: %v", platform.Answered)
	}
	if rec.Phase != checklist.PhaseIdle {
		t.Errorf("phase = %s", rec.Phase)
	}
}

func TestCancelCallback(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	idleRecord(t, cache)

	d.HandleMessage(context.Background(), message(1, 20, "oops"))
	d.HandleCallback(context.Background(), telegram.CallbackQuery{
		ID: "cb", ChatID: 1, Data: pending.CallbackCancel, BusinessConnID: "conn",
	})

	rec, _ := cache.Get(1)
	if rec.PendingText != "" || len(rec.Tasks) != 0 {
		t.Errorf("cancel left state: pending=%q tasks=%+v", rec.PendingText, rec.Tasks)
	}
	if !platform.WasDeleted(20) {
		t.Error("source message kept")
	}
}

func TestToggleRoutesToSyncEngine(t *testing.T) {
	d, _, cache := newTestDispatcher(t)
	rec := idleRecord(t, cache)
	rec.Daily = checklist.Ref{MessageID: 500, Scheme: checklist.SchemeStable}
	rec.Tasks = []checklist.TaskItem{{ItemID: 1, Text: "buy milk"}}
	if err := cache.Put(rec); err != nil {
		t.Fatal(err)
	}

	d.HandleToggle(context.Background(), telegram.ChecklistToggle{
		ChatID: 1, BusinessConnID: "conn", WidgetMessageID: 500, DoneIDs: []int{1},
	})

	persisted, _ := cache.Persisted(1)
	if !persisted.Tasks[0].Done {
		t.Error("toggle not applied")
	}
}

func TestMediaWithoutTextIsDeleted(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	idleRecord(t, cache)

	msg := message(1, 30, "")
	msg.HasMedia = true
	d.HandleMessage(context.Background(), msg)

	rec, _ := cache.Get(1)
	if rec.PendingText != "" || len(rec.Tasks) != 0 {
		t.Errorf("media captured as task: %+v", rec.Tasks)
	}
	if !platform.WasDeleted(30) {
		t.Error("media message not deleted")
	}
}

func TestForceCloseCommand(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	rec := idleRecord(t, cache)
	rec.Tasks = []checklist.TaskItem{{ItemID: 1, Text: "buy milk", Done: true}}
	if err := cache.Put(rec); err != nil {
		t.Fatal(err)
	}

	d.HandleMessage(context.Background(), message(1, 40, "/force_close"))

	persisted, _ := cache.Persisted(1)
	if persisted.LastClosedDate != "2026-08-31" {
		t.Errorf("last closed = %s", persisted.LastClosedDate)
	}
	if !strings.Contains(platform.LastText().Text, "/force_newday") {
		t.Errorf("confirmation = %+v", platform.LastText())
	}
}

func TestTimeCommandReentersTimeSetup(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	idleRecord(t, cache)

	d.HandleMessage(context.Background(), message(1, 50, "/time"))

	rec, _ := cache.Get(1)
	if rec.Phase != checklist.PhaseAwaitingTime || rec.StatedTime != "" {
		t.Errorf("phase=%s time=%q", rec.Phase, rec.StatedTime)
	}
	if !strings.Contains(platform.LastText().Text, "HH:MM") {
		t.Errorf("prompt = %+v", platform.LastText())
	}
}

func TestStaleDateRefreshOnInbound(t *testing.T) {
	d, platform, cache := newTestDispatcher(t)
	rec := idleRecord(t, cache)
	rec.Date = "2026-08-30"
	rec.Tasks = []checklist.TaskItem{{ItemID: 1, Text: "walk dog"}}
	oldWidget, err := platform.SendChecklist(context.Background(), "conn", 1, "30 August", widgets.Items(rec.Tasks))
	if err != nil {
		t.Fatal(err)
	}
	rec.Daily = checklist.Ref{MessageID: oldWidget, Scheme: checklist.SchemeStable}
	if err := cache.Put(rec); err != nil {
		t.Fatal(err)
	}

	d.HandleMessage(context.Background(), message(1, 60, "new task"))

	rec, _ = cache.Get(1)
	if rec.Date != "2026-08-31" {
		t.Errorf("date = %s", rec.Date)
	}
	if !platform.WasDeleted(oldWidget) {
		t.Error("stale widget kept")
	}
	if !rec.Daily.Live() || platform.Widgets[rec.Daily.MessageID].Title != "31 August" {
		t.Errorf("refreshed widget = %+v", platform.Widgets[rec.Daily.MessageID])
	}
}
