package pending

import (
	"dayline/app/core/checklist"
	"dayline/app/pkg/textutil"
	"dayline/app/pkg/types"
)

// TagsPerPage is how many history tags one keyboard page shows.
const TagsPerPage = 3

// Callback data for the tag-selection keyboard.
const (
	CallbackTagSelect = "TAG_SELECT:"
	CallbackPagePrev  = "TAGS_PAGE_PREV"
	CallbackPageNext  = "TAGS_PAGE_NEXT"
	CallbackCancel    = "TASK_CANCEL"
)

// Keyboard builds the tag-selection keyboard for the record's current page.
// The first row always offers today's short-date tag, then one row per known
// tag on the page, then navigation and cancel.
func Keyboard(rec *checklist.UserRecord) types.Keyboard {
	var kb types.Keyboard

	if rec.Date != "" {
		daily := textutil.ShortDateTag(rec.Date)
		kb = append(kb, []types.Button{{Text: daily, CallbackData: CallbackTagSelect + daily}})
	}

	tags := rec.KnownTags()
	pages := pageCount(len(tags))
	page := rec.TagsPageIndex
	if page >= pages {
		page = pages - 1
	}
	if page < 0 {
		page = 0
	}

	start := page * TagsPerPage
	end := start + TagsPerPage
	if end > len(tags) {
		end = len(tags)
	}
	for _, tag := range tags[start:end] {
		kb = append(kb, []types.Button{{Text: tag, CallbackData: CallbackTagSelect + tag}})
	}

	if pages > 1 {
		var nav []types.Button
		if page > 0 {
			nav = append(nav, types.Button{Text: "⬅️", CallbackData: CallbackPagePrev})
		}
		if page < pages-1 {
			nav = append(nav, types.Button{Text: "➡️", CallbackData: CallbackPageNext})
		}
		kb = append(kb, nav)
	}

	kb = append(kb, []types.Button{{Text: "❌ cancel", CallbackData: CallbackCancel}})
	return kb
}

func pageCount(n int) int {
	if n == 0 {
		return 1
	}
	return (n + TagsPerPage - 1) / TagsPerPage
}
