// Package tags creates and maintains the per-tag checklists.
package tags

import (
	"context"
	"errors"
	"fmt"

	"dayline/app/core/checklist"
	"dayline/app/core/store"
	"dayline/app/core/widgets"
	"dayline/app/pkg/logger"
	"dayline/app/pkg/types"
)

// HistoryLimit caps the tag recency list.
const HistoryLimit = 30

type Manager struct {
	platform types.Platform
	records  *store.Cache
}

func New(platform types.Platform, records *store.Cache) *Manager {
	return &Manager{platform: platform, records: records}
}

// AddTask appends text to the tag's checklist, creating the checklist and
// its widget when absent, and records the tag in the recency history.
// Persists once on success.
func (m *Manager) AddTask(ctx context.Context, rec *checklist.UserRecord, tag, text string) error {
	tc := rec.Tag(tag)
	if tc != nil {
		if err := m.appendToExisting(ctx, rec, tc, text); err != nil {
			return err
		}
	} else {
		if err := m.createWithTask(ctx, rec, tag, text); err != nil {
			return err
		}
	}

	rec.TouchTagHistory(tag, HistoryLimit)
	return m.records.Put(rec)
}

func (m *Manager) appendToExisting(ctx context.Context, rec *checklist.UserRecord, tc *checklist.TagChecklist, text string) error {
	tc.AddTask(text)
	if !tc.Ref.Live() {
		return m.renderFresh(ctx, rec, tc)
	}

	err := m.platform.EditChecklist(ctx, rec.BusinessConnID, rec.ChatID, tc.Ref.MessageID,
		tc.Title, widgets.Items(tc.Tasks))
	if errors.Is(err, types.ErrWidgetNotFound) {
		logger.Info("tag widget %d gone for chat_id=%d tag=%s, recreating", tc.Ref.MessageID, rec.ChatID, tc.Title)
		tc.Ref = checklist.Ref{}
		return m.renderFresh(ctx, rec, tc)
	}
	if err != nil {
		return fmt.Errorf("edit tag widget chat_id=%d tag=%s: %w", rec.ChatID, tc.Title, err)
	}
	// A full edit rewrites item ids, so a legacy widget becomes stable.
	tc.Ref.Scheme = checklist.SchemeStable
	return nil
}

// createWithTask builds a brand-new tag checklist. After the remote create
// it re-reads the persisted record: if a concurrent capture already created
// the same tag, our widget is discarded and the task merged into the winner.
func (m *Manager) createWithTask(ctx context.Context, rec *checklist.UserRecord, tag, text string) error {
	tc := &checklist.TagChecklist{Title: tag}
	tc.AddTask(text)

	msgID, err := m.platform.SendChecklist(ctx, rec.BusinessConnID, rec.ChatID, tag, widgets.Items(tc.Tasks))
	if err != nil {
		return fmt.Errorf("create tag widget chat_id=%d tag=%s: %w", rec.ChatID, tag, err)
	}

	if persisted, err := m.records.Persisted(rec.ChatID); err == nil {
		if winner := persisted.Tag(tag); winner != nil && winner.Ref.Live() && winner.Ref.MessageID != msgID {
			logger.Info("tag widget race chat_id=%d tag=%s: keeping %d, discarding %d",
				rec.ChatID, tag, winner.Ref.MessageID, msgID)
			m.platform.DeleteMessages(ctx, rec.BusinessConnID, rec.ChatID, []int64{msgID})

			winner.AddTask(text)
			rec.TagChecklists[tag] = winner
			if err := m.platform.EditChecklist(ctx, rec.BusinessConnID, rec.ChatID, winner.Ref.MessageID,
				winner.Title, widgets.Items(winner.Tasks)); err != nil {
				logger.Error("merge into winning tag widget chat_id=%d tag=%s: %v", rec.ChatID, tag, err)
			}
			return nil
		}
	}

	tc.Ref = checklist.Ref{MessageID: msgID, Scheme: checklist.SchemeStable}
	rec.TagChecklists[tag] = tc
	return nil
}

// renderFresh sends a new widget for an existing tag state without touching
// its task list.
func (m *Manager) renderFresh(ctx context.Context, rec *checklist.UserRecord, tc *checklist.TagChecklist) error {
	items := widgets.Items(tc.Tasks)
	if len(items) == 0 {
		return nil
	}
	msgID, err := m.platform.SendChecklist(ctx, rec.BusinessConnID, rec.ChatID, tc.Title, items)
	if err != nil {
		return fmt.Errorf("render tag widget chat_id=%d tag=%s: %w", rec.ChatID, tc.Title, err)
	}
	tc.Ref = checklist.Ref{MessageID: msgID, Scheme: checklist.SchemeStable}
	return nil
}

// Rebuild re-renders the tag's widget from its surviving tasks without
// appending anything. Used at day open; persists via the caller.
func (m *Manager) Rebuild(ctx context.Context, rec *checklist.UserRecord, tag string) error {
	tc := rec.Tag(tag)
	if tc == nil || len(checklist.NotDone(tc.Tasks)) == 0 {
		return nil
	}
	tc.Ref = checklist.Ref{}
	return m.renderFresh(ctx, rec, tc)
}
