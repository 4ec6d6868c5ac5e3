package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"dayline/app/pkg/logger"
)

// Handler receives the typed inbound events.
type Handler interface {
	HandleMessage(ctx context.Context, msg BusinessMessage)
	HandleToggle(ctx context.Context, ev ChecklistToggle)
	HandleCallback(ctx context.Context, cq CallbackQuery)
}

// Start long-polls getUpdates until the context is cancelled, dispatching
// each update to the handler.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	if strings.TrimSpace(c.cfg.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.pollOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("telegram poll: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) pollOnce(ctx context.Context, handler Handler) error {
	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "timeout", c.cfg.TimeoutSeconds)
	payload, _ = sjson.SetBytes(payload, "allowed_updates", []string{
		"message", "business_message", "edited_business_message", "callback_query",
	})
	if offset := atomic.LoadInt64(&c.offset); offset > 0 {
		payload, _ = sjson.SetBytes(payload, "offset", offset)
	}

	res, err := c.call(ctx, "getUpdates", payload)
	if err != nil {
		return err
	}

	for _, upd := range res.Get("result").Array() {
		if id := upd.Get("update_id").Int(); id >= atomic.LoadInt64(&c.offset) {
			atomic.StoreInt64(&c.offset, id+1)
		}
		c.dispatch(ctx, handler, upd)
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, handler Handler, upd gjson.Result) {
	if cq := upd.Get("callback_query"); cq.Exists() {
		handler.HandleCallback(ctx, parseCallbackQuery(cq))
		return
	}

	msg := upd.Get("business_message")
	if !msg.Exists() {
		msg = upd.Get("message")
	}
	if !msg.Exists() {
		msg = upd.Get("edited_business_message")
	}
	if !msg.Exists() || msg.Get("message_id").Int() == 0 {
		return
	}

	if toggle, ok := parseChecklistToggle(msg); ok {
		handler.HandleToggle(ctx, toggle)
		return
	}
	handler.HandleMessage(ctx, parseBusinessMessage(msg))
}
