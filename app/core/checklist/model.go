// Package checklist defines the per-chat record: the daily checklist, the
// per-tag checklists, the pending-task fields and the rollover bookkeeping.
package checklist

import (
	"dayline/app/pkg/textutil"
)

// Scheme tells how a widget's item identifiers are interpreted. Widgets
// created by older builds carried 1-based positions over the not-done tasks
// at creation time; new widgets carry the stable per-task item id. The zero
// value is positional so records written before the field existed decode
// as the legacy scheme.
type Scheme int

const (
	SchemePositional Scheme = iota
	SchemeStable
)

// Phase is the per-chat interaction state.
type Phase string

const (
	PhaseOnboarding   Phase = "onboarding"
	PhaseAwaitingTime Phase = "awaiting_time"
	PhaseIdle         Phase = "idle"
	PhaseAwaitingTag  Phase = "awaiting_tag"
)

// TaskItem is one checkable entry. ItemID is unique only within the
// checklist that owns it.
type TaskItem struct {
	ItemID int    `json:"item_id"`
	Text   string `json:"text"`
	Done   bool   `json:"done"`
}

// Ref points at the platform-side widget currently rendering a task list.
// MessageID 0 means no widget exists (lazy creation or post-teardown).
type Ref struct {
	MessageID int64  `json:"message_id,omitempty"`
	Scheme    Scheme `json:"scheme,omitempty"`
}

// Live reports whether a widget currently exists for this ref.
func (r Ref) Live() bool { return r.MessageID != 0 }

// TagChecklist groups tasks under a normalized tag. NextItemID grows
// monotonically across the tag's lifetime so ids are never reused after
// rollover removes completed tasks.
type TagChecklist struct {
	Title      string     `json:"title"`
	Ref        Ref        `json:"ref"`
	Tasks      []TaskItem `json:"tasks"`
	NextItemID int        `json:"next_item_id,omitempty"`
}

// AddTask appends a new not-done task with the next stable item id.
func (tc *TagChecklist) AddTask(text string) TaskItem {
	if tc.NextItemID <= 0 {
		tc.NextItemID = maxItemID(tc.Tasks) + 1
	}
	item := TaskItem{ItemID: tc.NextItemID, Text: text}
	tc.NextItemID++
	tc.Tasks = append(tc.Tasks, item)
	return item
}

// UserRecord is the root aggregate, one per chat.
type UserRecord struct {
	ChatID         int64  `json:"chat_id"`
	BusinessConnID string `json:"business_connection_id,omitempty"`

	Phase Phase `json:"phase,omitempty"`

	// Local-time anchor set during onboarding.
	StatedTime            string `json:"time,omitempty"`
	TimezoneOffsetMinutes int    `json:"timezone_offset_minutes,omitempty"`

	// Close boundary written by older builds. Rollover now keys on local
	// midnight; the value is carried so old payloads round-trip.
	DayEndTime string `json:"day_end_time,omitempty"`

	// Daily checklist for the current working date.
	Date  string     `json:"date,omitempty"`
	Daily Ref        `json:"daily_ref,omitempty"`
	Tasks []TaskItem `json:"tasks,omitempty"`

	TagChecklists map[string]*TagChecklist `json:"tag_checklists,omitempty"`
	TagsHistory   []string                 `json:"tags_history,omitempty"`
	TagsPageIndex int                      `json:"tags_page_index,omitempty"`

	// Pending-task workflow fields, meaningful only in PhaseAwaitingTag.
	PendingText              string  `json:"pending_text,omitempty"`
	PendingSourceMessageID   int64   `json:"pending_source_message_id,omitempty"`
	PendingServiceMessageIDs []int64 `json:"pending_service_message_ids,omitempty"`
	PendingTimeoutToken      string  `json:"pending_timeout_token,omitempty"`

	// Rollover idempotency guards, monotonic.
	LastClosedDate      string `json:"last_closed_date,omitempty"`
	LastOpenedDate      string `json:"last_opened_date,omitempty"`
	NextRolloverTimerID string `json:"next_rollover_timer_id,omitempty"`
}

// NewUserRecord returns a fresh record for a first-seen chat.
func NewUserRecord(chatID int64, businessConnID string) *UserRecord {
	return &UserRecord{
		ChatID:         chatID,
		BusinessConnID: businessConnID,
		Phase:          PhaseOnboarding,
		TagChecklists:  map[string]*TagChecklist{},
	}
}

// Normalize fills defaults for records persisted by older builds: absent
// phase maps back onto the legacy field combinations and nil maps become
// usable.
func (u *UserRecord) Normalize() {
	if u.TagChecklists == nil {
		u.TagChecklists = map[string]*TagChecklist{}
	}
	if u.Phase != "" {
		return
	}
	switch {
	case u.PendingText != "":
		u.Phase = PhaseAwaitingTag
	case u.StatedTime != "":
		u.Phase = PhaseIdle
	default:
		u.Phase = PhaseOnboarding
	}
}

// AddDailyTask appends a not-done task to the daily list with the next
// unused item id.
func (u *UserRecord) AddDailyTask(text string) TaskItem {
	item := TaskItem{ItemID: maxItemID(u.Tasks) + 1, Text: text}
	u.Tasks = append(u.Tasks, item)
	return item
}

// Tag returns the checklist for a normalized tag, or nil.
func (u *UserRecord) Tag(tag string) *TagChecklist {
	if u.TagChecklists == nil {
		return nil
	}
	return u.TagChecklists[tag]
}

// TouchTagHistory moves tag to the front of the recency list, dropping
// duplicates and capping the list length.
func (u *UserRecord) TouchTagHistory(tag string, cap int) {
	history := make([]string, 0, len(u.TagsHistory)+1)
	history = append(history, tag)
	for _, t := range u.TagsHistory {
		if t != tag {
			history = append(history, t)
		}
	}
	if cap > 0 && len(history) > cap {
		history = history[:cap]
	}
	u.TagsHistory = history
}

// KnownTags lists tags for the selection keyboard: live tag checklists
// first (map order normalized to history order where possible), then
// history-only tags.
func (u *UserRecord) KnownTags() []string {
	seen := map[string]bool{}
	var tags []string
	for _, t := range u.TagsHistory {
		if u.Tag(t) != nil && !seen[t] {
			tags = append(tags, t)
			seen[t] = true
		}
	}
	for t := range u.TagChecklists {
		if !seen[t] {
			tags = append(tags, t)
			seen[t] = true
		}
	}
	for _, t := range u.TagsHistory {
		if !seen[t] {
			tags = append(tags, t)
			seen[t] = true
		}
	}
	return tags
}

// ClearPending drops all pending-task fields and returns to idle.
func (u *UserRecord) ClearPending() {
	u.PendingText = ""
	u.PendingSourceMessageID = 0
	u.PendingServiceMessageIDs = nil
	u.PendingTimeoutToken = ""
	u.TagsPageIndex = 0
	if u.Phase == PhaseAwaitingTag {
		u.Phase = PhaseIdle
	}
}

// Sanitize removes duplicate tasks from the daily list and every tag list,
// first by item id, then by normalized text. Called before each persist so
// a glitched double-append never sticks.
func (u *UserRecord) Sanitize() {
	u.Tasks = CleanTasks(u.Tasks)
	for _, tc := range u.TagChecklists {
		tc.Tasks = CleanTasks(tc.Tasks)
	}
}

// CleanTasks drops duplicates, keeping the first occurrence of each item id
// and of each normalized text.
func CleanTasks(tasks []TaskItem) []TaskItem {
	if len(tasks) < 2 {
		return tasks
	}
	seenID := map[int]bool{}
	seenText := map[string]bool{}
	out := tasks[:0]
	for _, t := range tasks {
		if seenID[t.ItemID] {
			continue
		}
		key := textutil.NormalizeKey(t.Text)
		if seenText[key] {
			continue
		}
		seenID[t.ItemID] = true
		seenText[key] = true
		out = append(out, t)
	}
	return out
}

// NotDone returns the subset of tasks still open, preserving order.
func NotDone(tasks []TaskItem) []TaskItem {
	var out []TaskItem
	for _, t := range tasks {
		if !t.Done {
			out = append(out, t)
		}
	}
	return out
}

// Renumber assigns item ids 1..N in order. Used at day close after done
// tasks are discarded.
func Renumber(tasks []TaskItem) []TaskItem {
	for i := range tasks {
		tasks[i].ItemID = i + 1
	}
	return tasks
}

func maxItemID(tasks []TaskItem) int {
	max := 0
	for _, t := range tasks {
		if t.ItemID > max {
			max = t.ItemID
		}
	}
	return max
}
