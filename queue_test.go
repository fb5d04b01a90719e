package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBoundedQueue_PushPop(t *testing.T) {
	q := NewBoundedQueue[int](4)

	if !q.Push(1) {
		t.Fatal("Push should succeed on an empty queue")
	}
	if !q.Push(2) {
		t.Fatal("Push should succeed below capacity")
	}
	if q.Len() != 2 {
		t.Errorf("expected Len 2, got %d", q.Len())
	}

	v, ok := q.Pop(context.Background())
	if !ok || v != 1 {
		t.Errorf("expected (1, true), got (%d, %v)", v, ok)
	}
}

func TestBoundedQueue_PushFullReturnsFalse(t *testing.T) {
	q := NewBoundedQueue[int](2)
	if !q.Push(1) || !q.Push(2) {
		t.Fatal("first two pushes should succeed")
	}
	if q.Push(3) {
		t.Error("Push on a full queue should return false")
	}
	if q.Len() != 2 {
		t.Errorf("expected Len to stay 2, got %d", q.Len())
	}
}

func TestBoundedQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewBoundedQueue[int](1)
	done := make(chan int, 1)

	go func() {
		v, ok := q.Pop(context.Background())
		if !ok {
			done <- -1
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("expected 42, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after Push")
	}
}

func TestBoundedQueue_PopContextCanceled(t *testing.T) {
	q := NewBoundedQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop should report ok=false when context is canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop never returned after context cancellation")
	}
}

func TestBoundedQueue_CloseDrainsThenFails(t *testing.T) {
	q := NewBoundedQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Close()

	if q.Push(3) {
		t.Error("Push after Close should fail")
	}

	v, ok := q.Pop(context.Background())
	if !ok || v != 1 {
		t.Errorf("Pop after Close should still drain existing items, got (%d, %v)", v, ok)
	}
	v, ok = q.Pop(context.Background())
	if !ok || v != 2 {
		t.Errorf("expected second drained item 2, got (%d, %v)", v, ok)
	}

	_, ok = q.Pop(context.Background())
	if ok {
		t.Error("Pop on a closed, drained queue should report ok=false")
	}
}

func TestBoundedQueue_Clear(t *testing.T) {
	q := NewBoundedQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("expected Len 0 after Clear, got %d", q.Len())
	}
}

func TestBoundedQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := NewBoundedQueue[int](8)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.Push(i) {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	received := 0
	for received < n {
		if _, ok := q.Pop(context.Background()); ok {
			received++
		}
	}
	wg.Wait()
	if received != n {
		t.Errorf("expected to receive %d items, got %d", n, received)
	}
}

func TestNewBoundedQueue_PanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for non-positive capacity")
		}
	}()
	NewBoundedQueue[int](0)
}
