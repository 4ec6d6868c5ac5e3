package rollover

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMidnightsFiresDueEntriesInOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []int64
	m := NewMidnights(func(chatID int64, _ string) {
		mu.Lock()
		fired = append(fired, chatID)
		mu.Unlock()
	})

	now := time.Now()
	m.Schedule(2, now.Add(20*time.Millisecond), "t2")
	m.Schedule(1, now.Add(5*time.Millisecond), "t1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("fired = %v", fired)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if fired[0] != 1 || fired[1] != 2 {
		t.Errorf("fire order = %v", fired)
	}
	if m.Scheduled(1) || m.Scheduled(2) {
		t.Error("fired entries still queued")
	}
}

func TestMidnightsRescheduleReplacesEntry(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	m := NewMidnights(func(_ int64, timerID string) {
		mu.Lock()
		tokens = append(tokens, timerID)
		mu.Unlock()
	})

	m.Schedule(1, time.Now().Add(time.Hour), "old")
	m.Schedule(1, time.Now().Add(10*time.Millisecond), "new")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(tokens)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) != 1 || tokens[0] != "new" {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestMidnightsRemove(t *testing.T) {
	m := NewMidnights(func(int64, string) {})
	m.Schedule(1, time.Now().Add(time.Hour), "t")
	if !m.Scheduled(1) {
		t.Fatal("not scheduled")
	}
	m.Remove(1)
	if m.Scheduled(1) {
		t.Error("still scheduled after remove")
	}
}
