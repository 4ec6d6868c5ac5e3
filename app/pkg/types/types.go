// Package types holds the shared contracts between the engines and the
// chat platform transport.
package types

import (
	"context"
	"errors"
)

// ErrWidgetNotFound reports that an edit targeted a checklist widget that
// no longer exists on the platform side.
var ErrWidgetNotFound = errors.New("checklist widget not found")

// ChecklistItem is one entry of a rendered checklist widget.
type ChecklistItem struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Button is one inline keyboard button.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Keyboard is rows of inline buttons.
type Keyboard [][]Button

// Platform is the chat-platform surface the engines consume. Message
// deletion is best-effort and never returns an error; edit operations on a
// vanished widget return the transport's widget-not-found sentinel.
type Platform interface {
	SendText(ctx context.Context, connID string, chatID int64, text string) (int64, error)
	SendKeyboard(ctx context.Context, connID string, chatID int64, text string, kb Keyboard) (int64, error)
	EditReplyMarkup(ctx context.Context, connID string, chatID, messageID int64, kb Keyboard) error
	DeleteMessages(ctx context.Context, connID string, chatID int64, messageIDs []int64)
	SendChecklist(ctx context.Context, connID string, chatID int64, title string, items []ChecklistItem) (int64, error)
	EditChecklist(ctx context.Context, connID string, chatID, messageID int64, title string, items []ChecklistItem) error
	AnswerCallback(ctx context.Context, callbackID string) error
}
