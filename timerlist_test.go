package main

import (
	"testing"
	"time"
)

func TestTimerList_AddOrdersAscending(t *testing.T) {
	l := NewTimerList()
	base := time.Now()

	t3 := &Timer{Expire: base.Add(30 * time.Second)}
	t1 := &Timer{Expire: base.Add(10 * time.Second)}
	t2 := &Timer{Expire: base.Add(20 * time.Second)}

	l.Add(t3)
	l.Add(t1)
	l.Add(t2)

	if !l.checkInvariant() {
		t.Fatal("list invariant violated after Add")
	}
	if l.head != t1 || l.tail != t3 {
		t.Error("expected head=t1, tail=t3 after inserting out of order")
	}
	if l.count() != 3 {
		t.Errorf("expected count 3, got %d", l.count())
	}
}

func TestTimerList_DeleteHeadMiddleTail(t *testing.T) {
	l := NewTimerList()
	base := time.Now()
	a := &Timer{Expire: base.Add(1 * time.Second)}
	b := &Timer{Expire: base.Add(2 * time.Second)}
	c := &Timer{Expire: base.Add(3 * time.Second)}
	l.Add(a)
	l.Add(b)
	l.Add(c)

	l.Delete(b)
	if !l.checkInvariant() {
		t.Fatal("invariant violated after deleting middle node")
	}
	if l.count() != 2 {
		t.Errorf("expected count 2, got %d", l.count())
	}

	l.Delete(a)
	if l.head != c {
		t.Error("expected head to become c after deleting old head")
	}

	l.Delete(c)
	if !l.Empty() {
		t.Error("expected list to be empty after deleting every node")
	}
	if l.count() != 0 {
		t.Errorf("expected count 0, got %d", l.count())
	}
}

func TestTimerList_AdjustReordersWhenPushedLater(t *testing.T) {
	l := NewTimerList()
	base := time.Now()
	a := &Timer{Expire: base.Add(1 * time.Second)}
	b := &Timer{Expire: base.Add(2 * time.Second)}
	c := &Timer{Expire: base.Add(3 * time.Second)}
	l.Add(a)
	l.Add(b)
	l.Add(c)

	a.Expire = base.Add(5 * time.Second)
	l.Adjust(a)

	if !l.checkInvariant() {
		t.Fatal("invariant violated after Adjust")
	}
	if l.head != b {
		t.Errorf("expected head to become b after pushing a later, got %v", l.head.Expire)
	}
	if l.tail != a {
		t.Error("expected a to become tail after being pushed past c")
	}
}

func TestTimerList_AdjustNoopWhenStillOrdered(t *testing.T) {
	l := NewTimerList()
	base := time.Now()
	a := &Timer{Expire: base.Add(1 * time.Second)}
	b := &Timer{Expire: base.Add(10 * time.Second)}
	l.Add(a)
	l.Add(b)

	a.Expire = base.Add(2 * time.Second)
	l.Adjust(a)

	if l.head != a {
		t.Error("Adjust should be a no-op when order is preserved")
	}
}

func TestTimerList_TickFiresExpiredOnly(t *testing.T) {
	l := NewTimerList()
	base := time.Now()

	var fired []int
	mk := func(d time.Duration, id int) *Timer {
		return &Timer{
			Expire: base.Add(d),
			Callback: func(*ClientData) {
				fired = append(fired, id)
			},
		}
	}

	t1 := mk(-time.Second, 1)
	t2 := mk(-500*time.Millisecond, 2)
	t3 := mk(time.Hour, 3)
	l.Add(t1)
	l.Add(t2)
	l.Add(t3)

	didFire := l.Tick(base)
	if !didFire {
		t.Error("Tick should report true when timers fired")
	}
	if len(fired) != 2 || fired[0] != 1 || fired[1] != 2 {
		t.Errorf("expected [1 2] to fire in order, got %v", fired)
	}
	if l.count() != 1 {
		t.Errorf("expected 1 remaining timer, got %d", l.count())
	}
	if l.head != t3 {
		t.Error("expected t3 to remain as the sole timer")
	}
}

func TestTimerList_TickNoneExpired(t *testing.T) {
	l := NewTimerList()
	future := &Timer{Expire: time.Now().Add(time.Hour)}
	l.Add(future)

	if l.Tick(time.Now()) {
		t.Error("Tick should report false when nothing has expired")
	}
	if l.count() != 1 {
		t.Error("Tick should not remove unexpired timers")
	}
}

func TestTimerList_EmptyOnFreshList(t *testing.T) {
	l := NewTimerList()
	if !l.Empty() {
		t.Error("a fresh TimerList should be Empty")
	}
}
