// Package bot routes inbound chat events to the engines: toggles to the
// sync engine, messages through the per-chat phase machine, callbacks to
// the pending workflow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dayline/app/core/checklist"
	"dayline/app/core/interaction/telegram"
	"dayline/app/core/pending"
	"dayline/app/core/rollover"
	"dayline/app/core/store"
	synceng "dayline/app/core/sync"
	"dayline/app/core/widgets"
	"dayline/app/pkg/logger"
	"dayline/app/pkg/textutil"
	"dayline/app/pkg/types"
)

const (
	welcomeText = "👋 Hi!\n\n" +
		"I'm your chat for daily checklists.\n\n" +
		"Write or forward me any message and I'll turn it into a task for the day."
	askTimeText      = "What's your current time? Send it as HH:MM ⏰"
	updateTimeText   = "Let's update your checklist time.\nSend the new time as HH:MM, like 09:30."
	badTimeText      = "That doesn't look like a time. Send it as HH:MM, like 09:30."
	timeSetText      = "✅ Time set: %s"
	dayClosedText    = "✅ Day closed. Use /force_newday to open a new one."
	legacySkipData   = "TASK_SKIP"
	legacyCancelData = "TASK_DELETE"
)

type Dispatcher struct {
	platform types.Platform
	records  *store.Cache
	sync     *synceng.Engine
	pending  *pending.Workflow
	widgets  *widgets.Service
	rollover *rollover.Engine
	now      func() time.Time
}

func NewDispatcher(platform types.Platform, records *store.Cache, syncEng *synceng.Engine, workflow *pending.Workflow, widgetSvc *widgets.Service, rolloverEng *rollover.Engine) *Dispatcher {
	return &Dispatcher{
		platform: platform,
		records:  records,
		sync:     syncEng,
		pending:  workflow,
		widgets:  widgetSvc,
		rollover: rolloverEng,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func (d *Dispatcher) HandleToggle(ctx context.Context, ev telegram.ChecklistToggle) {
	release := d.records.LockChat(ev.ChatID)
	defer release()

	err := d.sync.Apply(ev.ChatID, synceng.Toggle{
		WidgetMessageID: ev.WidgetMessageID,
		DoneIDs:         ev.DoneIDs,
		UndoneIDs:       ev.UndoneIDs,
	})
	if err != nil {
		logger.Error("apply toggle chat_id=%d: %v", ev.ChatID, err)
	}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, msg telegram.BusinessMessage) {
	release := d.records.LockChat(msg.ChatID)
	defer release()

	rec, err := d.getOrCreate(msg.ChatID, msg.BusinessConnID)
	if err != nil {
		logger.Error("load record chat_id=%d: %v", msg.ChatID, err)
		return
	}

	if handled := d.handleCommand(ctx, rec, msg); handled {
		return
	}

	d.refreshStaleDate(ctx, rec)

	switch rec.Phase {
	case checklist.PhaseOnboarding:
		err = d.handleFirstMessage(ctx, rec, msg)
	case checklist.PhaseAwaitingTime:
		err = d.handleTimeInput(ctx, rec, msg)
	case checklist.PhaseAwaitingTag:
		err = d.handleTagInput(ctx, rec, msg)
	default:
		err = d.handleTaskCapture(ctx, rec, msg)
	}
	if err != nil {
		logger.Error("handle message chat_id=%d phase=%s: %v", msg.ChatID, rec.Phase, err)
	}
}

func (d *Dispatcher) HandleCallback(ctx context.Context, cq telegram.CallbackQuery) {
	if err := d.platform.AnswerCallback(ctx, cq.ID); err != nil {
		logger.Error("answer callback chat_id=%d: %v", cq.ChatID, err)
	}

	release := d.records.LockChat(cq.ChatID)
	defer release()

	rec, err := d.records.Get(cq.ChatID)
	if err != nil {
		logger.Error("callback for unknown chat_id=%d: %v", cq.ChatID, err)
		return
	}

	switch {
	case strings.HasPrefix(cq.Data, pending.CallbackTagSelect):
		tag := strings.TrimPrefix(cq.Data, pending.CallbackTagSelect)
		err = d.pending.CommitTagged(ctx, rec, tag, 0)
	case cq.Data == pending.CallbackPageNext:
		err = d.pending.Page(ctx, rec, cq.MessageID, 1)
	case cq.Data == pending.CallbackPagePrev:
		err = d.pending.Page(ctx, rec, cq.MessageID, -1)
	case cq.Data == pending.CallbackCancel || cq.Data == legacyCancelData:
		err = d.pending.Cancel(ctx, rec)
	case cq.Data == legacySkipData:
		err = d.pending.CommitUntagged(ctx, rec)
	default:
		logger.Info("unknown callback data %q chat_id=%d", cq.Data, cq.ChatID)
	}
	if err != nil {
		logger.Error("handle callback chat_id=%d data=%s: %v", cq.ChatID, cq.Data, err)
	}
}

func (d *Dispatcher) getOrCreate(chatID int64, connID string) (*checklist.UserRecord, error) {
	rec, err := d.records.Get(chatID)
	if errors.Is(err, store.ErrNotFound) {
		rec = checklist.NewUserRecord(chatID, connID)
		if err := d.records.Put(rec); err != nil {
			return nil, err
		}
		logger.Info("new chat registered chat_id=%d", chatID)
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	if connID != "" && rec.BusinessConnID != connID {
		rec.BusinessConnID = connID
	}
	return rec, nil
}

func (d *Dispatcher) handleCommand(ctx context.Context, rec *checklist.UserRecord, msg telegram.BusinessMessage) bool {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case strings.HasPrefix(text, "/force_close"):
		if err := d.rollover.Close(ctx, rec); err != nil {
			logger.Error("force close chat_id=%d: %v", rec.ChatID, err)
		}
		if _, err := d.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, dayClosedText); err != nil {
			logger.Error("confirm force close chat_id=%d: %v", rec.ChatID, err)
		}
		return true
	case strings.HasPrefix(text, "/force_newday"):
		if err := d.rollover.Open(ctx, rec); err != nil {
			logger.Error("force newday chat_id=%d: %v", rec.ChatID, err)
		}
		return true
	case strings.HasPrefix(text, "/time"):
		d.promptTimeUpdate(ctx, rec, msg.MessageID)
		return true
	}
	return false
}

func (d *Dispatcher) promptTimeUpdate(ctx context.Context, rec *checklist.UserRecord, commandMessageID int64) {
	rec.Phase = checklist.PhaseAwaitingTime
	rec.StatedTime = ""
	rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, commandMessageID)

	if id, err := d.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, updateTimeText); err == nil {
		rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, id)
	} else {
		logger.Error("send time prompt chat_id=%d: %v", rec.ChatID, err)
	}
	if err := d.records.Put(rec); err != nil {
		logger.Error("persist time prompt chat_id=%d: %v", rec.ChatID, err)
	}
}

// handleFirstMessage greets an unseen chat and asks for the local time. The
// triggering message is deleted, the greetings are kept for cleanup once the
// time is set.
func (d *Dispatcher) handleFirstMessage(ctx context.Context, rec *checklist.UserRecord, msg telegram.BusinessMessage) error {
	for _, text := range []string{welcomeText, askTimeText} {
		id, err := d.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, text)
		if err != nil {
			return err
		}
		rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, id)
	}

	d.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{msg.MessageID})
	rec.Phase = checklist.PhaseAwaitingTime
	return d.records.Put(rec)
}

// handleTimeInput parses HH:MM, derives the timezone offset, arms the
// midnight timer and renders the first checklist. Invalid input keeps the
// record awaiting time.
func (d *Dispatcher) handleTimeInput(ctx context.Context, rec *checklist.UserRecord, msg telegram.BusinessMessage) error {
	parsed, ok := textutil.ParseTimeString(msg.Text)
	if !ok {
		id, err := d.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, badTimeText)
		if err != nil {
			return err
		}
		rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, id, msg.MessageID)
		return d.records.Put(rec)
	}

	nowUTC := d.now().UTC()
	offset, err := textutil.OffsetMinutes(parsed, nowUTC)
	if err != nil {
		return err
	}

	rec.StatedTime = parsed
	rec.TimezoneOffsetMinutes = offset
	rec.Date = textutil.LocalDate(offset, nowUTC)
	// LastClosedDate stays empty so the first midnight closes this day.
	rec.LastOpenedDate = rec.Date
	rec.Phase = checklist.PhaseIdle

	rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, msg.MessageID)
	if id, err := d.platform.SendText(ctx, rec.BusinessConnID, rec.ChatID, fmt.Sprintf(timeSetText, parsed)); err == nil {
		rec.PendingServiceMessageIDs = append(rec.PendingServiceMessageIDs, id)
	}

	d.rollover.Arm(rec)

	if len(rec.Tasks) == 0 {
		rec.AddDailyTask(widgets.SeedTaskText)
	}
	if err := d.widgets.EnsureDaily(ctx, rec); err != nil {
		logger.Error("first checklist chat_id=%d: %v", rec.ChatID, err)
	}

	d.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, rec.PendingServiceMessageIDs)
	rec.PendingServiceMessageIDs = nil
	return d.records.Put(rec)
}

func (d *Dispatcher) handleTagInput(ctx context.Context, rec *checklist.UserRecord, msg telegram.BusinessMessage) error {
	if rec.PendingText == "" {
		// Stale phase, fall through to capture.
		rec.Phase = checklist.PhaseIdle
		return d.handleTaskCapture(ctx, rec, msg)
	}
	if msg.Text == "" {
		d.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{msg.MessageID})
		return nil
	}
	return d.pending.HandleTagText(ctx, rec, msg.MessageID, msg.Text)
}

func (d *Dispatcher) handleTaskCapture(ctx context.Context, rec *checklist.UserRecord, msg telegram.BusinessMessage) error {
	text, ok := textutil.TaskText(msg.Text, msg.ForwardedFrom)
	if !ok {
		// Media without a caption carries nothing to capture.
		d.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{msg.MessageID})
		return nil
	}
	return d.pending.Capture(ctx, rec, msg.MessageID, text)
}

// refreshStaleDate re-renders the daily widget when inbound traffic finds
// the record's working date behind the computed local date.
func (d *Dispatcher) refreshStaleDate(ctx context.Context, rec *checklist.UserRecord) {
	if !rec.Daily.Live() || rec.StatedTime == "" {
		return
	}
	current := textutil.LocalDate(rec.TimezoneOffsetMinutes, d.now().UTC())
	if rec.Date == current {
		return
	}

	logger.Info("stale date chat_id=%d: %s -> %s", rec.ChatID, rec.Date, current)
	d.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{rec.Daily.MessageID})
	rec.Date = current
	rec.Daily = checklist.Ref{}
	if err := d.widgets.EnsureDaily(ctx, rec); err != nil {
		logger.Error("refresh stale widget chat_id=%d: %v", rec.ChatID, err)
	}
	if err := d.records.Put(rec); err != nil {
		logger.Error("persist stale refresh chat_id=%d: %v", rec.ChatID, err)
	}
}
