package rollover

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Midnights is a priority queue of per-chat local-midnight deadlines. One
// goroutine sleeps until the earliest entry and fires the callback with the
// entry's timer id, which the owner checks against the persisted record to
// reject stale schedules.
type Midnights struct {
	mu      sync.Mutex
	entries entryHeap
	byChat  map[int64]*midnightEntry
	wake    chan struct{}
	fire    func(chatID int64, timerID string)
	now     func() time.Time
}

type midnightEntry struct {
	chatID  int64
	at      time.Time
	timerID string
	index   int
}

func NewMidnights(fire func(chatID int64, timerID string)) *Midnights {
	return &Midnights{
		byChat: map[int64]*midnightEntry{},
		wake:   make(chan struct{}, 1),
		fire:   fire,
		now:    time.Now,
	}
}

// Schedule sets or replaces the chat's deadline. A chat has at most one
// entry; rescheduling supersedes the previous timer id.
func (m *Midnights) Schedule(chatID int64, at time.Time, timerID string) {
	m.mu.Lock()
	if e, ok := m.byChat[chatID]; ok {
		e.at = at
		e.timerID = timerID
		heap.Fix(&m.entries, e.index)
	} else {
		e := &midnightEntry{chatID: chatID, at: at, timerID: timerID}
		heap.Push(&m.entries, e)
		m.byChat[chatID] = e
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Scheduled reports whether the chat has a queued deadline.
func (m *Midnights) Scheduled(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byChat[chatID]
	return ok
}

func (m *Midnights) Remove(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byChat[chatID]; ok {
		heap.Remove(&m.entries, e.index)
		delete(m.byChat, chatID)
	}
}

// Run sleeps until the earliest deadline, fires due entries, and repeats
// until the context ends.
func (m *Midnights) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		m.mu.Lock()
		wait := time.Hour
		if m.entries.Len() > 0 {
			wait = m.entries[0].at.Sub(m.now())
			if wait < 0 {
				wait = 0
			}
		}
		m.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-timer.C:
			for _, e := range m.popDue() {
				m.fire(e.chatID, e.timerID)
			}
		}
	}
}

func (m *Midnights) popDue() []*midnightEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*midnightEntry
	now := m.now()
	for m.entries.Len() > 0 && !m.entries[0].at.After(now) {
		e := heap.Pop(&m.entries).(*midnightEntry)
		delete(m.byChat, e.chatID)
		due = append(due, e)
	}
	return due
}

type entryHeap []*midnightEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*midnightEntry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
