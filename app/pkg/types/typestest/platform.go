// Package typestest provides an in-memory Platform fake for engine tests.
package typestest

import (
	"context"
	"sync"

	"dayline/app/pkg/types"
)

type SentText struct {
	ChatID    int64
	MessageID int64
	Text      string
	Keyboard  types.Keyboard
}

type Widget struct {
	MessageID int64
	ChatID    int64
	Title     string
	Items     []types.ChecklistItem
}

// FakePlatform records outbound calls and hands out sequential message ids.
type FakePlatform struct {
	mu     sync.Mutex
	nextID int64

	Texts     []SentText
	Widgets   map[int64]*Widget
	Deleted   []int64
	Answered  []string
	Markups   map[int64]types.Keyboard
	SendErr   error
	EditErrs  map[int64]error
	WidgetErr error
}

func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		nextID:   100,
		Widgets:  map[int64]*Widget{},
		Markups:  map[int64]types.Keyboard{},
		EditErrs: map[int64]error{},
	}
}

func (p *FakePlatform) next() int64 {
	p.nextID++
	return p.nextID
}

func (p *FakePlatform) SendText(_ context.Context, _ string, chatID int64, text string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return 0, p.SendErr
	}
	id := p.next()
	p.Texts = append(p.Texts, SentText{ChatID: chatID, MessageID: id, Text: text})
	return id, nil
}

func (p *FakePlatform) SendKeyboard(_ context.Context, _ string, chatID int64, text string, kb types.Keyboard) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return 0, p.SendErr
	}
	id := p.next()
	p.Texts = append(p.Texts, SentText{ChatID: chatID, MessageID: id, Text: text, Keyboard: kb})
	return id, nil
}

func (p *FakePlatform) EditReplyMarkup(_ context.Context, _ string, _, messageID int64, kb types.Keyboard) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Markups[messageID] = kb
	return nil
}

func (p *FakePlatform) DeleteMessages(_ context.Context, _ string, _ int64, messageIDs []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range messageIDs {
		p.Deleted = append(p.Deleted, id)
		delete(p.Widgets, id)
	}
}

func (p *FakePlatform) SendChecklist(_ context.Context, _ string, chatID int64, title string, items []types.ChecklistItem) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WidgetErr != nil {
		return 0, p.WidgetErr
	}
	id := p.next()
	p.Widgets[id] = &Widget{MessageID: id, ChatID: chatID, Title: title, Items: items}
	return id, nil
}

func (p *FakePlatform) EditChecklist(_ context.Context, _ string, chatID, messageID int64, title string, items []types.ChecklistItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.EditErrs[messageID]; err != nil {
		return err
	}
	w, ok := p.Widgets[messageID]
	if !ok {
		return types.ErrWidgetNotFound
	}
	w.Title = title
	w.Items = items
	return nil
}

func (p *FakePlatform) AnswerCallback(_ context.Context, callbackID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Answered = append(p.Answered, callbackID)
	return nil
}

// WasDeleted reports whether the message id was passed to DeleteMessages.
func (p *FakePlatform) WasDeleted(messageID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.Deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

// LastText returns the most recent text message, or nil.
func (p *FakePlatform) LastText() *SentText {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Texts) == 0 {
		return nil
	}
	return &p.Texts[len(p.Texts)-1]
}
