package telegram

import (
	"strings"

	"github.com/tidwall/gjson"
)

// BusinessMessage is an inbound message carrying text, caption or media.
type BusinessMessage struct {
	ChatID           int64
	MessageID        int64
	BusinessConnID   string
	Text             string
	HasMedia         bool
	ForwardedFrom    string
	ReplyToMessageID int64
}

// ChecklistToggle reports items checked or unchecked on a checklist widget.
// WidgetMessageID is zero when the event carried no widget reference.
type ChecklistToggle struct {
	ChatID          int64
	BusinessConnID  string
	WidgetMessageID int64
	DoneIDs         []int
	UndoneIDs       []int
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID             string
	ChatID         int64
	MessageID      int64
	BusinessConnID string
	Data           string
}

var mediaFields = []string{"photo", "video", "video_note", "audio", "voice", "document"}

func parseBusinessMessage(msg gjson.Result) BusinessMessage {
	text := strings.TrimSpace(msg.Get("text").String())
	if text == "" {
		text = strings.TrimSpace(msg.Get("caption").String())
	}

	hasMedia := false
	for _, field := range mediaFields {
		if msg.Get(field).Exists() {
			hasMedia = true
			break
		}
	}

	return BusinessMessage{
		ChatID:           msg.Get("chat.id").Int(),
		MessageID:        msg.Get("message_id").Int(),
		BusinessConnID:   msg.Get("business_connection_id").String(),
		Text:             text,
		HasMedia:         hasMedia,
		ForwardedFrom:    forwardedFrom(msg),
		ReplyToMessageID: msg.Get("reply_to_message.message_id").Int(),
	}
}

func parseChecklistToggle(msg gjson.Result) (ChecklistToggle, bool) {
	tasksDone := msg.Get("checklist_tasks_done")
	if !tasksDone.Exists() {
		return ChecklistToggle{}, false
	}

	toggle := ChecklistToggle{
		ChatID:         msg.Get("chat.id").Int(),
		BusinessConnID: msg.Get("business_connection_id").String(),
		// An explicit widget reference arrives as a reply to the checklist
		// message; without it identifiers must be resolved by search.
		WidgetMessageID: msg.Get("reply_to_message.message_id").Int(),
	}
	if toggle.WidgetMessageID == 0 {
		toggle.WidgetMessageID = tasksDone.Get("checklist_message.message_id").Int()
	}

	for _, id := range tasksDone.Get("marked_as_done_task_ids").Array() {
		toggle.DoneIDs = append(toggle.DoneIDs, int(id.Int()))
	}
	for _, id := range tasksDone.Get("marked_as_not_done_task_ids").Array() {
		toggle.UndoneIDs = append(toggle.UndoneIDs, int(id.Int()))
	}
	return toggle, len(toggle.DoneIDs) > 0 || len(toggle.UndoneIDs) > 0
}

func parseCallbackQuery(cq gjson.Result) CallbackQuery {
	return CallbackQuery{
		ID:             cq.Get("id").String(),
		ChatID:         cq.Get("message.chat.id").Int(),
		MessageID:      cq.Get("message.message_id").Int(),
		BusinessConnID: cq.Get("business_connection_id").String(),
		Data:           cq.Get("data").String(),
	}
}

// forwardedFrom resolves the annotated sender of a forwarded message from
// the forward_origin variants: user, hidden_user, chat, channel.
func forwardedFrom(msg gjson.Result) string {
	origin := msg.Get("forward_origin")
	if !origin.Exists() {
		return ""
	}

	switch origin.Get("type").String() {
	case "user":
		user := origin.Get("sender_user")
		if username := user.Get("username").String(); username != "" {
			return "@" + username
		}
		name := strings.TrimSpace(user.Get("first_name").String() + " " + user.Get("last_name").String())
		if name != "" {
			return name
		}
		return "User"
	case "hidden_user":
		if name := origin.Get("sender_user_name").String(); name != "" {
			return name
		}
		return "Hidden sender"
	case "chat":
		return chatLabel(origin.Get("sender_chat"), "Chat")
	case "channel":
		return chatLabel(origin.Get("chat"), "Channel")
	}
	return ""
}

func chatLabel(chat gjson.Result, fallback string) string {
	if title := chat.Get("title").String(); title != "" {
		return title
	}
	if username := chat.Get("username").String(); username != "" {
		return "@" + username
	}
	return fallback
}
