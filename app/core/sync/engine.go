// Package sync reconciles inbound "items toggled" events against the daily
// and tag checklists, resolving ambiguous item identifiers.
package sync

import (
	"sort"

	"dayline/app/core/checklist"
	"dayline/app/core/store"
	"dayline/app/pkg/logger"
	"dayline/app/pkg/textutil"
)

func normKey(s string) string { return textutil.NormalizeKey(s) }

// Toggle is a checklist state-change event. WidgetMessageID is zero when the
// event carried no widget reference; identifiers are then resolved by search.
type Toggle struct {
	WidgetMessageID int64
	DoneIDs         []int
	UndoneIDs       []int
}

type Engine struct {
	records *store.Cache
}

func New(records *store.Cache) *Engine {
	return &Engine{records: records}
}

// target is the checklist an event resolved to.
type target struct {
	name   string
	tasks  []checklist.TaskItem
	scheme checklist.Scheme
}

type change struct {
	key  string
	done bool
}

// Apply resolves the event to one checklist, updates done flags, propagates
// them across checklists by normalized text and persists once. Unresolvable
// events are dropped and logged; no partial state is ever written.
func (e *Engine) Apply(chatID int64, ev Toggle) error {
	if len(ev.DoneIDs) == 0 && len(ev.UndoneIDs) == 0 {
		return nil
	}

	rec, err := e.records.Get(chatID)
	if err != nil {
		if err == store.ErrNotFound {
			logger.Error("toggle for unknown chat_id=%d dropped", chatID)
			return nil
		}
		return err
	}

	t := resolve(rec, ev)
	if t == nil {
		logger.Error("toggle chat_id=%d widget=%d done=%v undone=%v: no checklist resolved, dropped",
			chatID, ev.WidgetMessageID, ev.DoneIDs, ev.UndoneIDs)
		return nil
	}

	changes := applyToggle(t, ev)
	if len(changes) == 0 {
		return nil
	}
	logger.Info("toggle chat_id=%d checklist=%s: %d item(s) updated", chatID, t.name, len(changes))

	propagate(rec, changes)
	return e.records.Put(rec)
}

// resolve picks the checklist an event refers to, in priority order: explicit
// widget reference, stable item-id search (daily wins ties), positional range
// fallback.
func resolve(rec *checklist.UserRecord, ev Toggle) *target {
	if ev.WidgetMessageID != 0 {
		if rec.Daily.Live() && rec.Daily.MessageID == ev.WidgetMessageID {
			return &target{name: "daily", tasks: rec.Tasks, scheme: rec.Daily.Scheme}
		}
		for _, tag := range sortedTags(rec) {
			tc := rec.TagChecklists[tag]
			if tc.Ref.Live() && tc.Ref.MessageID == ev.WidgetMessageID {
				return &target{name: tag, tasks: tc.Tasks, scheme: tc.Ref.Scheme}
			}
		}
		return nil
	}

	ids := append(append([]int{}, ev.DoneIDs...), ev.UndoneIDs...)

	if containsAllIDs(rec.Tasks, ids) {
		return &target{name: "daily", tasks: rec.Tasks, scheme: checklist.SchemeStable}
	}
	for _, tag := range sortedTags(rec) {
		if containsAllIDs(rec.TagChecklists[tag].Tasks, ids) {
			return &target{name: tag, tasks: rec.TagChecklists[tag].Tasks, scheme: checklist.SchemeStable}
		}
	}

	// Legacy widgets numbered items by position over the not-done tasks at
	// creation time; accept ids that all fall inside that range.
	if inPositionalRange(rec.Tasks, ids) {
		return &target{name: "daily", tasks: rec.Tasks, scheme: checklist.SchemePositional}
	}
	for _, tag := range sortedTags(rec) {
		if inPositionalRange(rec.TagChecklists[tag].Tasks, ids) {
			return &target{name: tag, tasks: rec.TagChecklists[tag].Tasks, scheme: checklist.SchemePositional}
		}
	}
	return nil
}

// applyToggle mutates the target's done flags in place and reports what
// changed. Identifiers that match nothing are skipped.
func applyToggle(t *target, ev Toggle) []change {
	var changes []change
	set := func(task *checklist.TaskItem, done bool) {
		task.Done = done
		changes = append(changes, change{key: normKey(task.Text), done: done})
	}

	switch t.scheme {
	case checklist.SchemeStable:
		for _, id := range ev.DoneIDs {
			if task := byItemID(t.tasks, id); task != nil {
				set(task, true)
			}
		}
		for _, id := range ev.UndoneIDs {
			if task := byItemID(t.tasks, id); task != nil {
				set(task, false)
			}
		}
	case checklist.SchemePositional:
		// Positions index the not-done tasks as they stood when the widget
		// was rendered; compute the open list before mutating.
		open := openIndexes(t.tasks)
		for _, pos := range ev.DoneIDs {
			if pos >= 1 && pos <= len(open) {
				set(&t.tasks[open[pos-1]], true)
			}
		}
		for _, id := range ev.UndoneIDs {
			if task := byItemID(t.tasks, id); task != nil {
				set(task, false)
			} else if id >= 1 && id <= len(t.tasks) {
				set(&t.tasks[id-1], false)
			}
		}
	}
	return changes
}

// propagate copies each changed done flag to every task across all
// checklists whose normalized text matches. Single pass, no recursion.
func propagate(rec *checklist.UserRecord, changes []change) {
	apply := func(tasks []checklist.TaskItem) {
		for i := range tasks {
			key := normKey(tasks[i].Text)
			for _, ch := range changes {
				if ch.key == key {
					tasks[i].Done = ch.done
				}
			}
		}
	}
	apply(rec.Tasks)
	for _, tc := range rec.TagChecklists {
		apply(tc.Tasks)
	}
}

func byItemID(tasks []checklist.TaskItem, id int) *checklist.TaskItem {
	for i := range tasks {
		if tasks[i].ItemID == id {
			return &tasks[i]
		}
	}
	return nil
}

func containsAllIDs(tasks []checklist.TaskItem, ids []int) bool {
	if len(tasks) == 0 {
		return false
	}
	have := map[int]bool{}
	for _, t := range tasks {
		have[t.ItemID] = true
	}
	for _, id := range ids {
		if !have[id] {
			return false
		}
	}
	return true
}

func inPositionalRange(tasks []checklist.TaskItem, ids []int) bool {
	open := len(checklist.NotDone(tasks))
	if open == 0 {
		return false
	}
	for _, id := range ids {
		if id < 1 || id > open {
			return false
		}
	}
	return true
}

func openIndexes(tasks []checklist.TaskItem) []int {
	var idx []int
	for i := range tasks {
		if !tasks[i].Done {
			idx = append(idx, i)
		}
	}
	return idx
}

func sortedTags(rec *checklist.UserRecord) []string {
	tags := make([]string, 0, len(rec.TagChecklists))
	for tag := range rec.TagChecklists {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
