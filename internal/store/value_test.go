package store

import (
	"testing"
)

func TestValueGetSet(t *testing.T) {
	v := NewValue(1)
	if got := v.Get(); got != 1 {
		t.Fatalf("Get() = %d, want 1", got)
	}

	v.Set(5)
	if got := v.Get(); got != 5 {
		t.Errorf("Get() after Set = %d, want 5", got)
	}

	got := v.Update(func(n int) int { return n * 2 })
	if got != 10 || v.Get() != 10 {
		t.Errorf("Update returned %d, Get %d, want 10", got, v.Get())
	}
}

func TestValueSubscribe(t *testing.T) {
	v := NewValue("a")
	ch := v.Subscribe()

	v.Set("b")
	select {
	case got := <-ch:
		if got != "b" {
			t.Errorf("received %q, want %q", got, "b")
		}
	default:
		t.Fatal("expected a notification")
	}

	v.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Setting after unsubscribe must not panic.
	v.Set("c")
}

func TestValueDropsSlowListeners(t *testing.T) {
	v := NewValue(0)
	ch := v.Subscribe()

	for i := 1; i <= 20; i++ {
		v.Set(i)
	}

	received := 0
	for range ch {
		received++
	}
	if received != 10 {
		t.Errorf("received %d values before close, want 10", received)
	}
}
