package pending

import (
	"context"
	"testing"
	"time"

	"dayline/app/core/checklist"
	"dayline/app/core/store"
	"dayline/app/core/tags"
	"dayline/app/core/widgets"
	"dayline/app/pkg/types/typestest"
)

func newTestWorkflow(t *testing.T) (*Workflow, *typestest.FakePlatform, *store.Cache, *store.Records) {
	t.Helper()
	db, err := store.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	records := store.NewRecords(db)
	cache := store.NewCache(records)
	platform := typestest.NewFakePlatform()
	w := New(platform, cache, tags.New(platform, cache), widgets.New(platform, cache))
	t.Cleanup(w.Stop)
	return w, platform, cache, records
}

func seedIdleRecord(t *testing.T, cache *store.Cache) *checklist.UserRecord {
	t.Helper()
	rec := checklist.NewUserRecord(1, "conn")
	rec.Phase = checklist.PhaseIdle
	rec.Date = "2026-08-31"
	if err := cache.Put(rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestCaptureStartsTagFlow(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "buy milk"); err != nil {
		t.Fatal(err)
	}

	if rec.Phase != checklist.PhaseAwaitingTag {
		t.Errorf("phase = %s", rec.Phase)
	}
	if rec.PendingText != "buy milk" || rec.PendingSourceMessageID != 42 {
		t.Errorf("pending = %q source=%d", rec.PendingText, rec.PendingSourceMessageID)
	}
	if rec.PendingTimeoutToken == "" {
		t.Error("timeout token not set")
	}

	prompt := platform.LastText()
	if prompt == nil || len(prompt.Keyboard) == 0 {
		t.Fatal("tag prompt not sent")
	}
	first := prompt.Keyboard[0][0]
	if first.Text != "#31aug_mon" || first.CallbackData != CallbackTagSelect+"#31aug_mon" {
		t.Errorf("daily button = %+v", first)
	}
	last := prompt.Keyboard[len(prompt.Keyboard)-1][0]
	if last.CallbackData != CallbackCancel {
		t.Errorf("last row = %+v, want cancel", last)
	}
	if len(rec.PendingServiceMessageIDs) != 1 || rec.PendingServiceMessageIDs[0] != prompt.MessageID {
		t.Errorf("service ids = %v", rec.PendingServiceMessageIDs)
	}

	persisted, _ := cache.Persisted(1)
	if persisted.PendingText != "buy milk" {
		t.Error("pending state not persisted")
	}
}

func TestCaptureLastWriterWins(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "first"); err != nil {
		t.Fatal(err)
	}
	firstPrompt := platform.LastText().MessageID

	if err := w.Capture(context.Background(), rec, 43, "second"); err != nil {
		t.Fatal(err)
	}

	if rec.PendingText != "second" || rec.PendingSourceMessageID != 43 {
		t.Errorf("pending = %q source=%d", rec.PendingText, rec.PendingSourceMessageID)
	}
	if !platform.WasDeleted(42) || !platform.WasDeleted(firstPrompt) {
		t.Errorf("first capture's messages not cleaned up: deleted=%v", platform.Deleted)
	}
	if len(rec.Tasks) != 0 {
		t.Errorf("discarded capture must not create a task: %+v", rec.Tasks)
	}
}

func TestCommitUntagged(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "buy milk"); err != nil {
		t.Fatal(err)
	}
	promptID := platform.LastText().MessageID

	if err := w.CommitUntagged(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if len(rec.Tasks) != 1 || rec.Tasks[0].Text != "buy milk" {
		t.Errorf("daily tasks = %+v", rec.Tasks)
	}
	if rec.Phase != checklist.PhaseIdle || rec.PendingText != "" {
		t.Errorf("pending not cleared: phase=%s text=%q", rec.Phase, rec.PendingText)
	}
	if !platform.WasDeleted(42) || !platform.WasDeleted(promptID) {
		t.Errorf("scratch messages not deleted: %v", platform.Deleted)
	}
	if !rec.Daily.Live() {
		t.Error("daily widget missing after commit")
	}
}

func TestCommitTagged(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "send report"); err != nil {
		t.Fatal(err)
	}
	promptID := platform.LastText().MessageID

	if err := w.CommitTagged(context.Background(), rec, "#work", 77); err != nil {
		t.Fatal(err)
	}

	tc := rec.Tag("#work")
	if tc == nil || len(tc.Tasks) != 1 || tc.Tasks[0].Text != "send report" {
		t.Fatalf("tag checklist = %+v", tc)
	}
	if len(rec.Tasks) != 0 {
		t.Errorf("task leaked into daily list: %+v", rec.Tasks)
	}
	for _, id := range []int64{42, promptID, 77} {
		if !platform.WasDeleted(id) {
			t.Errorf("message %d not deleted", id)
		}
	}
	if rec.Phase != checklist.PhaseIdle || rec.PendingText != "" {
		t.Errorf("pending not cleared: phase=%s", rec.Phase)
	}
}

func TestCancelCreatesNoTask(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "nope"); err != nil {
		t.Fatal(err)
	}
	if err := w.Cancel(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if len(rec.Tasks) != 0 || len(rec.TagChecklists) != 0 {
		t.Errorf("cancel created a task: %+v %+v", rec.Tasks, rec.TagChecklists)
	}
	if rec.Phase != checklist.PhaseIdle || rec.PendingText != "" {
		t.Errorf("pending not cleared")
	}
	if !platform.WasDeleted(42) {
		t.Error("source message kept after cancel")
	}
}

func TestInvalidTagInputReprompts(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "task"); err != nil {
		t.Fatal(err)
	}

	if err := w.HandleTagText(context.Background(), rec, 88, "#"); err != nil {
		t.Fatal(err)
	}

	if rec.PendingText != "task" || rec.Phase != checklist.PhaseAwaitingTag {
		t.Errorf("pending state changed on invalid tag: %q %s", rec.PendingText, rec.Phase)
	}
	notice := platform.LastText()
	if notice == nil || notice.Text != invalidTagText {
		t.Errorf("notice = %+v", notice)
	}
	found := map[int64]bool{}
	for _, id := range rec.PendingServiceMessageIDs {
		found[id] = true
	}
	if !found[88] || !found[notice.MessageID] {
		t.Errorf("scratch ids missing from service list: %v", rec.PendingServiceMessageIDs)
	}
}

func TestValidTagInputCommits(t *testing.T) {
	w, _, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "task"); err != nil {
		t.Fatal(err)
	}
	if err := w.HandleTagText(context.Background(), rec, 88, "Deep Work"); err != nil {
		t.Fatal(err)
	}

	if rec.Tag("#deep_work") == nil {
		t.Fatalf("tag checklists = %+v", rec.TagChecklists)
	}
	if rec.PendingText != "" {
		t.Error("pending not cleared")
	}
}

func TestTimeoutCommitsUntagged(t *testing.T) {
	w, _, cache, records := newTestWorkflow(t)
	w.WithTimeout(20 * time.Millisecond)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "buy milk"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		persisted, err := records.Get(1)
		if err == nil && persisted.PendingText == "" {
			if len(persisted.Tasks) != 1 || persisted.Tasks[0].Text != "buy milk" {
				t.Errorf("tasks after timeout = %+v", persisted.Tasks)
			}
			if persisted.Phase != checklist.PhaseIdle {
				t.Errorf("phase = %s", persisted.Phase)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout never committed the pending task")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStaleTimerTokenIsNoOp(t *testing.T) {
	w, _, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "task"); err != nil {
		t.Fatal(err)
	}

	w.fireTimeout(1, "stale-token")
	if rec.PendingText != "task" {
		t.Error("stale timer resolved the workflow")
	}

	if err := w.Cancel(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	w.fireTimeout(1, rec.PendingTimeoutToken)
	if len(rec.Tasks) != 0 {
		t.Errorf("timer fired after cancel: %+v", rec.Tasks)
	}
}

func TestTimeoutWaitsForChatLock(t *testing.T) {
	w, _, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)

	if err := w.Capture(context.Background(), rec, 42, "buy milk"); err != nil {
		t.Fatal(err)
	}
	token := rec.PendingTimeoutToken

	// While another goroutine owns the chat, the timeout must block instead
	// of mutating the record underneath it.
	release := cache.LockChat(1)
	done := make(chan struct{})
	go func() {
		w.fireTimeout(1, token)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("timeout ran while the chat was locked")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never ran after the lock was released")
	}

	got, err := cache.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.PendingText != "" {
		t.Errorf("pending text = %q after timeout", got.PendingText)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].Text != "buy milk" {
		t.Errorf("tasks = %+v, want untagged commit", got.Tasks)
	}
}

func TestKeyboardPagination(t *testing.T) {
	w, platform, cache, _ := newTestWorkflow(t)
	rec := seedIdleRecord(t, cache)
	rec.TagsHistory = []string{"#a", "#b", "#c", "#d", "#e"}

	if err := w.Capture(context.Background(), rec, 42, "task"); err != nil {
		t.Fatal(err)
	}
	promptID := platform.LastText().MessageID

	kb := platform.LastText().Keyboard
	// daily + 3 tags + nav + cancel
	if len(kb) != 6 {
		t.Fatalf("rows = %d: %+v", len(kb), kb)
	}
	if kb[1][0].Text != "#a" || kb[3][0].Text != "#c" {
		t.Errorf("first page tags wrong: %+v", kb)
	}

	if err := w.Page(context.Background(), rec, promptID, 1); err != nil {
		t.Fatal(err)
	}
	if rec.TagsPageIndex != 1 {
		t.Errorf("page index = %d", rec.TagsPageIndex)
	}
	kb = platform.Markups[promptID]
	if len(kb) != 5 || kb[1][0].Text != "#d" || kb[2][0].Text != "#e" {
		t.Errorf("second page = %+v", kb)
	}

	// Past the last page nothing changes.
	if err := w.Page(context.Background(), rec, promptID, 1); err != nil {
		t.Fatal(err)
	}
	if rec.TagsPageIndex != 1 {
		t.Errorf("page index moved past end: %d", rec.TagsPageIndex)
	}

	if err := w.Page(context.Background(), rec, promptID, -1); err != nil {
		t.Fatal(err)
	}
	if rec.TagsPageIndex != 0 {
		t.Errorf("page index = %d after prev", rec.TagsPageIndex)
	}
}
