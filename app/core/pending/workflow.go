// Package pending runs the short-lived state machine between "task text
// captured" and "task committed into a checklist", with a timeout default.
package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dayline/app/core/checklist"
	"dayline/app/core/store"
	"dayline/app/core/tags"
	"dayline/app/core/widgets"
	"dayline/app/pkg/logger"
	"dayline/app/pkg/textutil"
	"dayline/app/pkg/types"
)

// DefaultTimeout is how long a captured task waits for a tag decision
// before it is committed untagged.
const DefaultTimeout = 5 * time.Minute

const (
	tagPromptText  = "type a tag or pick a recent one 👇"
	invalidTagText = "that tag didn't work, try again"
)

type Workflow struct {
	platform types.Platform
	records  *store.Cache
	tags     *tags.Manager
	widgets  *widgets.Service
	timeout  time.Duration

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func New(platform types.Platform, records *store.Cache, tagMgr *tags.Manager, widgetSvc *widgets.Service) *Workflow {
	return &Workflow{
		platform: platform,
		records:  records,
		tags:     tagMgr,
		widgets:  widgetSvc,
		timeout:  DefaultTimeout,
		timers:   map[int64]*time.Timer{},
	}
}

// WithTimeout overrides the tag-decision window, for tests and config.
func (w *Workflow) WithTimeout(d time.Duration) *Workflow {
	if d > 0 {
		w.timeout = d
	}
	return w
}

// Capture starts the tag-choice flow for freshly captured task text. A
// pending task already in flight is discarded first: last writer wins.
func (w *Workflow) Capture(ctx context.Context, rec *checklist.UserRecord, sourceMessageID int64, text string) error {
	if rec.PendingText != "" {
		w.cancelTimer(rec.ChatID)
		stale := append([]int64{}, rec.PendingServiceMessageIDs...)
		if rec.PendingSourceMessageID != 0 {
			stale = append(stale, rec.PendingSourceMessageID)
		}
		w.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, stale)
		rec.ClearPending()
	}

	if err := w.widgets.EnsureDaily(ctx, rec); err != nil {
		logger.Error("ensure daily widget chat_id=%d: %v", rec.ChatID, err)
	}

	rec.Phase = checklist.PhaseAwaitingTag
	rec.PendingText = text
	rec.PendingSourceMessageID = sourceMessageID
	rec.TagsPageIndex = 0
	rec.PendingServiceMessageIDs = nil

	promptID, err := w.platform.SendKeyboard(ctx, rec.BusinessConnID, rec.ChatID, tagPromptText, Keyboard(rec))
	if err != nil {
		return fmt.Errorf("send tag prompt chat_id=%d: %w", rec.ChatID, err)
	}
	rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, promptID)

	w.armTimer(rec)
	return w.records.Put(rec)
}

// CommitTagged resolves the pending task into the given tag's checklist.
// extraMessageID, when non-zero, is an additional scratch message (the typed
// tag) deleted with the rest.
func (w *Workflow) CommitTagged(ctx context.Context, rec *checklist.UserRecord, tag string, extraMessageID int64) error {
	if rec.PendingText == "" {
		return nil
	}
	w.cancelTimer(rec.ChatID)

	if err := w.tags.AddTask(ctx, rec, tag, rec.PendingText); err != nil {
		logger.Error("commit tagged chat_id=%d tag=%s: %v", rec.ChatID, tag, err)
	}

	w.cleanup(ctx, rec, extraMessageID)
	rec.ClearPending()
	return w.records.Put(rec)
}

// CommitUntagged resolves the pending task into the daily checklist. Used
// by explicit skip and by the timeout default.
func (w *Workflow) CommitUntagged(ctx context.Context, rec *checklist.UserRecord) error {
	if rec.PendingText == "" {
		return nil
	}
	w.cancelTimer(rec.ChatID)

	rec.AddDailyTask(rec.PendingText)
	if err := w.widgets.SyncDaily(ctx, rec); err != nil {
		logger.Error("sync daily after untagged commit chat_id=%d: %v", rec.ChatID, err)
	}

	w.cleanup(ctx, rec, 0)
	rec.ClearPending()
	return w.records.Put(rec)
}

// Cancel discards the pending task entirely: no task is created.
func (w *Workflow) Cancel(ctx context.Context, rec *checklist.UserRecord) error {
	if rec.PendingText == "" {
		return nil
	}
	w.cancelTimer(rec.ChatID)
	w.cleanup(ctx, rec, 0)
	rec.ClearPending()
	return w.records.Put(rec)
}

// HandleTagText processes free-text tag input while awaiting a tag. Invalid
// input re-prompts and leaves the pending state untouched.
func (w *Workflow) HandleTagText(ctx context.Context, rec *checklist.UserRecord, messageID int64, raw string) error {
	tag, ok := textutil.NormalizeTag(raw)
	if !ok {
		errID, err := w.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, invalidTagText)
		if err != nil {
			logger.Error("send invalid-tag notice chat_id=%d: %v", rec.ChatID, err)
		} else {
			rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, errID)
		}
		rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, messageID)
		return w.records.Put(rec)
	}
	return w.CommitTagged(ctx, rec, tag, messageID)
}

// Page moves the tag keyboard forward or back and re-renders the prompt's
// markup in place.
func (w *Workflow) Page(ctx context.Context, rec *checklist.UserRecord, messageID int64, delta int) error {
	if rec.PendingText == "" {
		return nil
	}
	tags := rec.KnownTags()
	pages := pageCount(len(tags))

	next := rec.TagsPageIndex + delta
	if next < 0 || next >= pages {
		return nil
	}
	rec.TagsPageIndex = next

	if err := w.platform.EditReplyMarkup(ctx, rec.BusinessConnID, rec.ChatID, messageID, Keyboard(rec)); err != nil {
		logger.Error("edit tag keyboard chat_id=%d: %v", rec.ChatID, err)
	}
	return w.records.Put(rec)
}

// armTimer schedules the timeout default. The uuid token persisted on the
// record makes a stale timer firing after the workflow resolved (or after a
// newer capture re-armed) a guarded no-op.
func (w *Workflow) armTimer(rec *checklist.UserRecord) {
	token := uuid.NewString()
	rec.PendingTimeoutToken = token
	chatID := rec.ChatID

	w.mu.Lock()
	if old := w.timers[chatID]; old != nil {
		old.Stop()
	}
	w.timers[chatID] = time.AfterFunc(w.timeout, func() {
		w.fireTimeout(chatID, token)
	})
	w.mu.Unlock()
}

func (w *Workflow) cancelTimer(chatID int64) {
	w.mu.Lock()
	if t := w.timers[chatID]; t != nil {
		t.Stop()
		delete(w.timers, chatID)
	}
	w.mu.Unlock()
}

// fireTimeout runs on the timer goroutine, so it takes the chat lock itself;
// every other entry to the workflow is called with the lock already held.
func (w *Workflow) fireTimeout(chatID int64, token string) {
	release := w.records.LockChat(chatID)
	defer release()

	rec, err := w.records.Get(chatID)
	if err != nil {
		logger.Error("timeout load chat_id=%d: %v", chatID, err)
		return
	}
	if rec.PendingText == "" || rec.PendingTimeoutToken != token {
		return
	}
	logger.Info("pending task timed out chat_id=%d, committing untagged", chatID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.CommitUntagged(ctx, rec); err != nil {
		logger.Error("timeout commit chat_id=%d: %v", chatID, err)
	}
}

// cleanup deletes the original task message and every workflow-owned
// scratch message, best-effort.
func (w *Workflow) cleanup(ctx context.Context, rec *checklist.UserRecord, extraMessageID int64) {
	var ids []int64
	if rec.PendingSourceMessageID != 0 {
		ids = append(ids, rec.PendingSourceMessageID)
	}
	ids = append(ids, rec.PendingServiceMessageIDs...)
	if extraMessageID != 0 && !contains(ids, extraMessageID) {
		ids = append(ids, extraMessageID)
	}
	w.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, ids)
}

// Stop cancels every armed timer; used on shutdown.
func (w *Workflow) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for chatID, t := range w.timers {
		t.Stop()
		delete(w.timers, chatID)
	}
}

func contains(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
