package rollover

import (
	"sort"
	"strings"

	"dayline/app/core/checklist"
	"dayline/app/core/widgets"
	"dayline/app/pkg/textutil"
)

const nothingCompletedText = "nothing completed today."

// Report renders the day-close summary: completed tasks from the daily
// checklist, then one section per tag with completed tasks, sorted by tag.
// The onboarding seed task is never reported.
func Report(rec *checklist.UserRecord) string {
	header := "**" + textutil.HumanDate(rec.Date) + "**"

	var daily []string
	for _, task := range rec.Tasks {
		if task.Done && task.Text != widgets.SeedTaskText {
			daily = append(daily, "[x] "+task.Text)
		}
	}

	tags := make([]string, 0, len(rec.TagChecklists))
	for tag := range rec.TagChecklists {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var sections []string
	for _, tag := range tags {
		var lines []string
		for _, task := range rec.TagChecklists[tag].Tasks {
			if task.Done {
				lines = append(lines, "[x] "+task.Text)
			}
		}
		if len(lines) > 0 {
			sections = append(sections, "**"+tag+"**\n"+strings.Join(lines, "\n"))
		}
	}

	if len(daily) == 0 && len(sections) == 0 {
		return header + "\n\n" + nothingCompletedText
	}

	parts := []string{header}
	if len(daily) > 0 {
		parts = append(parts, strings.Join(daily, "\n"))
	}
	parts = append(parts, sections...)
	return strings.Join(parts, "\n\n")
}
