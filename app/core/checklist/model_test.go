package checklist

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTagChecklistAddTaskNeverReusesIDs(t *testing.T) {
	tc := &TagChecklist{Title: "#work"}

	a := tc.AddTask("a")
	b := tc.AddTask("b")
	if a.ItemID != 1 || b.ItemID != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", a.ItemID, b.ItemID)
	}

	// Rollover discards completed tasks but the counter keeps climbing.
	tc.Tasks = nil
	c := tc.AddTask("c")
	if c.ItemID != 3 {
		t.Errorf("id after clear = %d, want 3", c.ItemID)
	}
}

func TestTagChecklistAddTaskSeedsCounterFromLegacyTasks(t *testing.T) {
	tc := &TagChecklist{
		Title: "#work",
		Tasks: []TaskItem{{ItemID: 5, Text: "old"}},
	}
	item := tc.AddTask("new")
	if item.ItemID != 6 {
		t.Errorf("id = %d, want 6", item.ItemID)
	}
}

func TestNormalizePhase(t *testing.T) {
	tests := []struct {
		name string
		rec  UserRecord
		want Phase
	}{
		{"fresh", UserRecord{}, PhaseOnboarding},
		{"time set", UserRecord{StatedTime: "09:00"}, PhaseIdle},
		{"pending", UserRecord{StatedTime: "09:00", PendingText: "x"}, PhaseAwaitingTag},
		{"explicit kept", UserRecord{Phase: PhaseAwaitingTime}, PhaseAwaitingTime},
	}
	for _, tt := range tests {
		tt.rec.Normalize()
		if tt.rec.Phase != tt.want {
			t.Errorf("%s: phase = %q, want %q", tt.name, tt.rec.Phase, tt.want)
		}
		if tt.rec.TagChecklists == nil {
			t.Errorf("%s: tag map not initialized", tt.name)
		}
	}
}

func TestLegacyRecordDecodesAsPositional(t *testing.T) {
	raw := `{"chat_id": 42, "daily_ref": {"message_id": 7}, "tasks": [{"item_id": 1, "text": "a"}]}`
	var rec UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Daily.Scheme != SchemePositional {
		t.Errorf("scheme = %v, want positional", rec.Daily.Scheme)
	}
	if !rec.Daily.Live() {
		t.Error("ref with message id should be live")
	}
}

func TestDayEndTimeRoundTrips(t *testing.T) {
	raw := `{"chat_id": 42, "time": "09:30", "day_end_time": "22:00"}`
	var rec UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.DayEndTime != "22:00" {
		t.Errorf("day end time = %q", rec.DayEndTime)
	}

	out, err := json.Marshal(&rec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"day_end_time":"22:00"`) {
		t.Errorf("day end time dropped on encode: %s", out)
	}
}

func TestTouchTagHistory(t *testing.T) {
	u := &UserRecord{TagsHistory: []string{"#a", "#b", "#c"}}

	u.TouchTagHistory("#b", 30)
	if got := u.TagsHistory[0]; got != "#b" {
		t.Errorf("front = %q, want #b", got)
	}
	if len(u.TagsHistory) != 3 {
		t.Errorf("len = %d, want 3 (no duplicates)", len(u.TagsHistory))
	}

	u2 := &UserRecord{}
	for i := 0; i < 40; i++ {
		u2.TouchTagHistory("#t"+string(rune('a'+i)), 30)
	}
	if len(u2.TagsHistory) != 30 {
		t.Errorf("history len = %d, want capped at 30", len(u2.TagsHistory))
	}
}

func TestKnownTagsOrdersActiveFirst(t *testing.T) {
	u := &UserRecord{
		TagChecklists: map[string]*TagChecklist{
			"#active": {Title: "#active"},
		},
		TagsHistory: []string{"#gone", "#active"},
	}
	tags := u.KnownTags()
	if len(tags) != 2 {
		t.Fatalf("len = %d, want 2", len(tags))
	}
	if tags[0] != "#active" || tags[1] != "#gone" {
		t.Errorf("tags = %v, want active before history-only", tags)
	}
}

func TestClearPending(t *testing.T) {
	u := &UserRecord{
		Phase:                    PhaseAwaitingTag,
		PendingText:              "task",
		PendingSourceMessageID:   10,
		PendingServiceMessageIDs: []int64{11, 12},
		PendingTimeoutToken:      "tok",
		TagsPageIndex:            2,
	}
	u.ClearPending()
	if u.PendingText != "" || u.PendingSourceMessageID != 0 || u.PendingServiceMessageIDs != nil ||
		u.PendingTimeoutToken != "" || u.TagsPageIndex != 0 {
		t.Errorf("pending fields not cleared: %+v", u)
	}
	if u.Phase != PhaseIdle {
		t.Errorf("phase = %q, want idle", u.Phase)
	}
}

func TestCleanTasks(t *testing.T) {
	tasks := []TaskItem{
		{ItemID: 1, Text: "Buy milk"},
		{ItemID: 1, Text: "other"},
		{ItemID: 2, Text: " buy   MILK "},
		{ItemID: 3, Text: "walk dog"},
	}
	got := CleanTasks(tasks)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Text != "Buy milk" || got[1].Text != "walk dog" {
		t.Errorf("kept = %+v", got)
	}
}

func TestNotDoneAndRenumber(t *testing.T) {
	tasks := []TaskItem{
		{ItemID: 1, Text: "a", Done: true},
		{ItemID: 2, Text: "b"},
		{ItemID: 3, Text: "c"},
	}
	open := NotDone(tasks)
	if len(open) != 2 {
		t.Fatalf("open = %+v", open)
	}
	renumbered := Renumber(open)
	if renumbered[0].ItemID != 1 || renumbered[1].ItemID != 2 {
		t.Errorf("renumbered = %+v", renumbered)
	}
	if renumbered[0].Text != "b" || renumbered[1].Text != "c" {
		t.Errorf("order changed: %+v", renumbered)
	}
}

func TestAddDailyTask(t *testing.T) {
	u := NewUserRecord(1, "conn")
	a := u.AddDailyTask("a")
	b := u.AddDailyTask("b")
	if a.ItemID != 1 || b.ItemID != 2 {
		t.Errorf("ids = %d, %d", a.ItemID, b.ItemID)
	}
}
