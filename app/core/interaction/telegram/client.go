// Package telegram is a hand-rolled Bot API client: long-poll inbound
// updates, plus the message and checklist-widget operations the engines
// need.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"dayline/app/pkg/logger"
	"dayline/app/pkg/types"
)

const defaultAPIRoot = "https://api.telegram.org"

// APIError is a non-ok Bot API response.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

type Config struct {
	BotToken       string
	PollInterval   time.Duration
	TimeoutSeconds int
	APIRoot        string
}

type Client struct {
	cfg    Config
	http   *http.Client
	offset int64
}

func NewClient(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 20
	}
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	return &Client{cfg: cfg, http: http.DefaultClient}
}

// SendText sends a plain text message and returns its message id.
func (c *Client) SendText(ctx context.Context, connID string, chatID int64, text string) (int64, error) {
	payload := newPayload(connID, chatID)
	payload, _ = sjson.SetBytes(payload, "text", text)

	res, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}
	return res.Get("result.message_id").Int(), nil
}

// SendKeyboard sends a text message carrying an inline keyboard.
func (c *Client) SendKeyboard(ctx context.Context, connID string, chatID int64, text string, kb types.Keyboard) (int64, error) {
	payload := newPayload(connID, chatID)
	payload, _ = sjson.SetBytes(payload, "text", text)
	payload, _ = sjson.SetBytes(payload, "reply_markup.inline_keyboard", kb)

	res, err := c.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}
	return res.Get("result.message_id").Int(), nil
}

// EditReplyMarkup swaps the inline keyboard on an existing message.
func (c *Client) EditReplyMarkup(ctx context.Context, connID string, chatID, messageID int64, kb types.Keyboard) error {
	payload := newPayload(connID, chatID)
	payload, _ = sjson.SetBytes(payload, "message_id", messageID)
	payload, _ = sjson.SetBytes(payload, "reply_markup.inline_keyboard", kb)

	_, err := c.call(ctx, "editMessageReplyMarkup", payload)
	return err
}

// DeleteMessages removes messages best-effort: failures are logged and
// swallowed, a missing message is not worth breaking a workflow over.
func (c *Client) DeleteMessages(ctx context.Context, connID string, chatID int64, messageIDs []int64) {
	if len(messageIDs) == 0 {
		return
	}
	payload := newPayload(connID, chatID)
	payload, _ = sjson.SetBytes(payload, "message_ids", messageIDs)

	if _, err := c.call(ctx, "deleteBusinessMessages", payload); err != nil {
		logger.Error("delete messages chat_id=%d: %v", chatID, err)
	}
}

// SendChecklist creates a checklist widget and returns its message id.
func (c *Client) SendChecklist(ctx context.Context, connID string, chatID int64, title string, items []types.ChecklistItem) (int64, error) {
	payload := newPayload(connID, chatID)
	payload = setChecklist(payload, title, items)

	res, err := c.call(ctx, "sendChecklist", payload)
	if err != nil {
		return 0, err
	}
	return res.Get("result.message_id").Int(), nil
}

// EditChecklist replaces the content of an existing checklist widget.
// Returns ErrWidgetNotFound when the widget no longer exists.
func (c *Client) EditChecklist(ctx context.Context, connID string, chatID, messageID int64, title string, items []types.ChecklistItem) error {
	payload := newPayload(connID, chatID)
	payload, _ = sjson.SetBytes(payload, "message_id", messageID)
	payload = setChecklist(payload, title, items)

	_, err := c.call(ctx, "editMessageChecklist", payload)
	var apiErr *APIError
	if errors.As(err, &apiErr) && isMessageGone(apiErr.Description) {
		return types.ErrWidgetNotFound
	}
	return err
}

// AnswerCallback acknowledges a callback query so the client stops its
// spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	payload, _ := sjson.SetBytes([]byte(`{}`), "callback_query_id", callbackID)
	_, err := c.call(ctx, "answerCallbackQuery", payload)
	return err
}

func newPayload(connID string, chatID int64) []byte {
	payload := []byte(`{}`)
	if connID != "" {
		payload, _ = sjson.SetBytes(payload, "business_connection_id", connID)
	}
	payload, _ = sjson.SetBytes(payload, "chat_id", chatID)
	return payload
}

func setChecklist(payload []byte, title string, items []types.ChecklistItem) []byte {
	payload, _ = sjson.SetBytes(payload, "checklist.title", title)
	payload, _ = sjson.SetBytes(payload, "checklist.tasks", items)
	payload, _ = sjson.SetBytes(payload, "checklist.others_can_add_tasks", false)
	payload, _ = sjson.SetBytes(payload, "checklist.others_can_mark_tasks_as_done", true)
	return payload
}

func isMessageGone(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "message to edit not found") ||
		strings.Contains(d, "message_id_invalid") ||
		strings.Contains(d, "message not found")
}

func (c *Client) call(ctx context.Context, method string, payload []byte) (gjson.Result, error) {
	url := strings.TrimRight(c.cfg.APIRoot, "/") + "/bot" + c.cfg.BotToken + "/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	body := gjson.ParseBytes(respBody)
	if !body.Get("ok").Bool() {
		return gjson.Result{}, &APIError{
			Code:        int(body.Get("error_code").Int()),
			Description: body.Get("description").String(),
		}
	}
	return body, nil
}
