package events

import (
	"sync"
	"testing"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) Handler {
		return func(evt TransitionEvent) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}
	bus.Subscribe(Transitioned, "a", record("a"))
	bus.Subscribe(Transitioned, "b", record("b"))

	bus.Publish(Transitioned, TransitionEvent{EntityType: "JOB", EntityID: "j1"})
	bus.Publish(Transitioned, TransitionEvent{EntityType: "JOB", EntityID: "j2"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got["a"] != 2 || got["b"] != 2 {
		t.Fatalf("deliveries = %v, want 2 each", got)
	}
}

func TestResubscribeReplacesHandler(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var first, second int
	bus.Subscribe(Transitioned, "dispatcher", func(evt TransitionEvent) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	bus.Subscribe(Transitioned, "dispatcher", func(evt TransitionEvent) {
		mu.Lock()
		second++
		mu.Unlock()
	})

	bus.Publish(Transitioned, TransitionEvent{EntityType: "INVOICE", EntityID: "i1"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if first != 0 {
		t.Fatalf("replaced handler ran %d times, want 0", first)
	}
	if second != 1 {
		t.Fatalf("current handler ran %d times, want 1", second)
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Publish(Transitioned, TransitionEvent{EntityType: "JOB", EntityID: "j1"})
	bus.Wait()
}
