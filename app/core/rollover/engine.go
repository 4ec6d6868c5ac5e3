// Package rollover closes each user's local day and opens the next one:
// report, archive, widget teardown, carry-over of unfinished tasks.
package rollover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
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

type Engine struct {
	platform   types.Platform
	records    *store.Cache
	tags       *tags.Manager
	widgets    *widgets.Service
	queue      *Midnights
	archiveDir string
	now        func() time.Time
}

func NewEngine(platform types.Platform, records *store.Cache, tagMgr *tags.Manager, widgetSvc *widgets.Service, archiveDir string) *Engine {
	e := &Engine{
		platform:   platform,
		records:    records,
		tags:       tagMgr,
		widgets:    widgetSvc,
		archiveDir: archiveDir,
		now:        time.Now,
	}
	e.queue = NewMidnights(e.onMidnight)
	return e
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.queue.now = now
	return e
}

// Run drives the midnight queue until the context ends.
func (e *Engine) Run(ctx context.Context) {
	e.queue.Run(ctx)
}

// Arm schedules the chat's next local midnight and stamps the record with
// the timer id. The caller persists the record.
func (e *Engine) Arm(rec *checklist.UserRecord) {
	at := textutil.NextLocalMidnight(rec.TimezoneOffsetMinutes, e.now().UTC())
	timerID := uuid.NewString()
	rec.NextRolloverTimerID = timerID
	e.queue.Schedule(rec.ChatID, at, timerID)
	logger.Info("midnight armed chat_id=%d at=%s", rec.ChatID, at.Format(time.RFC3339))
}

func (e *Engine) onMidnight(chatID int64, timerID string) {
	release := e.records.LockChat(chatID)
	defer release()

	rec, err := e.records.Get(chatID)
	if err != nil {
		logger.Error("midnight load chat_id=%d: %v", chatID, err)
		return
	}
	if rec.NextRolloverTimerID != timerID {
		logger.Info("midnight timer superseded chat_id=%d", chatID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := e.Rollover(ctx, chatID); err != nil {
		logger.Error("midnight rollover chat_id=%d: %v", chatID, err)
	}
}

// Rollover closes the record's current day, opens the new one and re-arms
// the midnight timer.
func (e *Engine) Rollover(ctx context.Context, chatID int64) error {
	rec, err := e.records.Get(chatID)
	if err != nil {
		return fmt.Errorf("rollover load chat_id=%d: %w", chatID, err)
	}

	if err := e.Close(ctx, rec); err != nil {
		return err
	}
	if err := e.Open(ctx, rec); err != nil {
		return err
	}

	e.Arm(rec)
	return e.records.Put(rec)
}

// Close ends the record's current day: deliver and archive the report, tear
// down every widget, drop completed tasks and renumber the survivors. At
// most once per date.
func (e *Engine) Close(ctx context.Context, rec *checklist.UserRecord) error {
	if rec.Date == "" {
		return nil
	}
	if rec.LastClosedDate == rec.Date {
		logger.Info("day %s already closed for chat_id=%d", rec.Date, rec.ChatID)
		return nil
	}

	report := Report(rec)
	if _, err := e.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, report); err != nil {
		logger.Error("deliver report chat_id=%d: %v", rec.ChatID, err)
	}
	if err := e.archive(rec.ChatID, rec.Date, report); err != nil {
		logger.Error("archive report chat_id=%d: %v", rec.ChatID, err)
	}

	var widgetIDs []int64
	if rec.Daily.Live() {
		widgetIDs = append(widgetIDs, rec.Daily.MessageID)
	}
	for _, tc := range rec.TagChecklists {
		if tc.Ref.Live() {
			widgetIDs = append(widgetIDs, tc.Ref.MessageID)
		}
	}
	if len(widgetIDs) > 0 {
		e.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, widgetIDs)
	}

	rec.Tasks = checklist.Renumber(checklist.NotDone(rec.Tasks))
	rec.Daily = checklist.Ref{}

	kept := map[string]*checklist.TagChecklist{}
	for tag, tc := range rec.TagChecklists {
		open := checklist.Renumber(checklist.NotDone(tc.Tasks))
		if len(open) == 0 {
			continue
		}
		kept[tag] = &checklist.TagChecklist{
			Title:      tc.Title,
			Tasks:      open,
			NextItemID: len(open) + 1,
		}
	}
	rec.TagChecklists = kept

	rec.LastClosedDate = rec.Date
	if err := e.records.Put(rec); err != nil {
		return fmt.Errorf("persist day close chat_id=%d: %w", rec.ChatID, err)
	}
	logger.Info("day %s closed for chat_id=%d: %d daily and %d tag checklists carried over",
		rec.LastClosedDate, rec.ChatID, len(rec.Tasks), len(rec.TagChecklists))
	return nil
}

// Open starts the record's new day: recompute the working date, seed an
// empty daily list, re-render every surviving widget. At most once per date.
func (e *Engine) Open(ctx context.Context, rec *checklist.UserRecord) error {
	current := textutil.LocalDate(rec.TimezoneOffsetMinutes, e.now().UTC())
	if rec.LastOpenedDate == current {
		logger.Info("day %s already opened for chat_id=%d", current, rec.ChatID)
		return nil
	}

	rec.Date = current
	if len(rec.Tasks) == 0 {
		rec.AddDailyTask(widgets.SeedTaskText)
	}

	if err := e.widgets.EnsureDaily(ctx, rec); err != nil {
		logger.Error("open daily widget chat_id=%d: %v", rec.ChatID, err)
	}

	tagNames := make([]string, 0, len(rec.TagChecklists))
	for tag := range rec.TagChecklists {
		tagNames = append(tagNames, tag)
	}
	sort.Strings(tagNames)
	for _, tag := range tagNames {
		if err := e.tags.Rebuild(ctx, rec, tag); err != nil {
			logger.Error("open tag widget chat_id=%d tag=%s: %v", rec.ChatID, tag, err)
		}
	}

	rec.LastOpenedDate = current
	if err := e.records.Put(rec); err != nil {
		return fmt.Errorf("persist day open chat_id=%d: %w", rec.ChatID, err)
	}
	logger.Info("day %s opened for chat_id=%d", current, rec.ChatID)
	return nil
}

// Sweep runs on the interval scheduler as a safety net: it initializes
// fresh records, performs rollovers the timer path missed, and re-arms
// chats that lost their queue entry.
func (e *Engine) Sweep(ctx context.Context) {
	chatIDs, err := e.records.ChatIDs()
	if err != nil {
		logger.Error("sweep list chats: %v", err)
		return
	}

	for _, chatID := range chatIDs {
		if err := e.sweepChat(ctx, chatID); err != nil {
			logger.Error("sweep chat_id=%d: %v", chatID, err)
		}
	}
}

func (e *Engine) sweepChat(ctx context.Context, chatID int64) error {
	release := e.records.LockChat(chatID)
	defer release()

	rec, err := e.records.Get(chatID)
	if err != nil {
		return err
	}
	if rec.StatedTime == "" {
		return nil
	}

	current := textutil.LocalDate(rec.TimezoneOffsetMinutes, e.now().UTC())

	if rec.Date == "" {
		rec.Date = current
		rec.LastOpenedDate = current
		e.Arm(rec)
		return e.records.Put(rec)
	}

	if rec.Date != current {
		logger.Info("sweep caught missed rollover chat_id=%d: %s -> %s", chatID, rec.Date, current)
		return e.Rollover(ctx, chatID)
	}

	if !e.queue.Scheduled(chatID) {
		e.Arm(rec)
		return e.records.Put(rec)
	}
	return nil
}

func (e *Engine) archive(chatID int64, date, report string) error {
	if err := os.MkdirAll(e.archiveDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(e.archiveDir, date+".txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	sep := strings.Repeat("=", 60)
	_, err = fmt.Fprintf(f, "\n%s\nchat_id: %d\ndate: %s\n%s\n\n%s\n\n", sep, chatID, date, sep, report)
	return err
}
