// Package widgets renders task lists into platform checklist widgets and
// keeps the daily widget in step with the record.
package widgets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dayline/app/core/checklist"
	"dayline/app/core/store"
	"dayline/app/pkg/logger"
	"dayline/app/pkg/textutil"
	"dayline/app/pkg/types"
)

// SeedTaskText is the task planted on an otherwise empty daily checklist.
const SeedTaskText = "smile at yourself in the mirror"

type Service struct {
	platform types.Platform
	records  *store.Cache
	now      func() time.Time
}

func New(platform types.Platform, records *store.Cache) *Service {
	return &Service{platform: platform, records: records, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Items renders the visible entries of a task list: completed tasks never
// appear, identifiers are the stable per-task ids, text is capped at the
// platform limit.
func Items(tasks []checklist.TaskItem) []types.ChecklistItem {
	var items []types.ChecklistItem
	for _, t := range checklist.NotDone(tasks) {
		items = append(items, types.ChecklistItem{
			ID:   t.ItemID,
			Text: textutil.Truncate(t.Text, textutil.MaxWidgetItemLength),
		})
	}
	return items
}

// EnsureDaily lazily creates the daily widget when none is live. After the
// remote create it re-reads the persisted record; if a concurrent flow
// already attached a widget, ours is discarded and the winner's reference
// adopted.
func (s *Service) EnsureDaily(ctx context.Context, rec *checklist.UserRecord) error {
	if rec.Daily.Live() {
		return nil
	}
	if rec.Date == "" {
		rec.Date = textutil.LocalDate(rec.TimezoneOffsetMinutes, s.now())
	}

	items := Items(rec.Tasks)
	if len(items) == 0 {
		return nil
	}

	msgID, err := s.platform.SendChecklist(ctx, rec.BusinessConnID, rec.ChatID, textutil.HumanDate(rec.Date), items)
	if err != nil {
		return fmt.Errorf("create daily widget chat_id=%d: %w", rec.ChatID, err)
	}

	persisted, err := s.records.Persisted(rec.ChatID)
	if err == nil && persisted.Daily.Live() && persisted.Daily.MessageID != msgID {
		logger.Info("daily widget race chat_id=%d: keeping %d, discarding %d",
			rec.ChatID, persisted.Daily.MessageID, msgID)
		s.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{msgID})
		rec.Daily = persisted.Daily
	} else {
		rec.Daily = checklist.Ref{MessageID: msgID, Scheme: checklist.SchemeStable}
	}
	return s.records.Put(rec)
}

// SyncDaily pushes the current task list into the live daily widget,
// recreating it when the remote side lost it. Editing a legacy positional
// widget rewrites its item ids, so the ref is promoted to the stable scheme.
func (s *Service) SyncDaily(ctx context.Context, rec *checklist.UserRecord) error {
	if !rec.Daily.Live() {
		return s.EnsureDaily(ctx, rec)
	}

	err := s.platform.EditChecklist(ctx, rec.BusinessConnID, rec.ChatID, rec.Daily.MessageID,
		textutil.HumanDate(rec.Date), Items(rec.Tasks))
	if errors.Is(err, types.ErrWidgetNotFound) {
		logger.Info("daily widget %d gone for chat_id=%d, recreating", rec.Daily.MessageID, rec.ChatID)
		rec.Daily = checklist.Ref{}
		return s.EnsureDaily(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("edit daily widget chat_id=%d: %w", rec.ChatID, err)
	}
	rec.Daily.Scheme = checklist.SchemeStable
	return s.records.Put(rec)
}
