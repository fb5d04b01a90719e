package main

import "time"

// Timer is one node of the ascending doubly-linked timer list. It
// carries the expiry, the callback to run on expiry, and the client data
// the callback needs.
type Timer struct {
	Expire   time.Time
	Callback func(*ClientData)
	UserData *ClientData

	prev, next *Timer
}

// ClientData is the per-connection record a Timer's callback acts on: the
// peer address, the socket descriptor, and a back-pointer to the timer
// itself so the callback (or the reactor) can remove it.
type ClientData struct {
	Sockfd  int
	Timer   *Timer
}

// TimerList is an ascending doubly-linked list of Timers, sorted by expiry.
// It is owned exclusively by the reactor goroutine: every exported method
// here assumes single-threaded, non-reentrant use and performs no locking.
type TimerList struct {
	head, tail *Timer
	n          int
}

// NewTimerList creates an empty timer list.
func NewTimerList() *TimerList {
	return &TimerList{}
}

// Add inserts timer into the list, sorted ascending by Expire. Ties break by
// insertion order: a new timer is placed before the first node with a
// strictly greater expiry.
func (l *TimerList) Add(t *Timer) {
	if t == nil {
		return
	}
	l.n++
	if l.head == nil {
		l.head, l.tail = t, t
		return
	}
	if t.Expire.Before(l.head.Expire) {
		t.next = l.head
		l.head.prev = t
		l.head = t
		return
	}
	l.insertAfter(t, l.head)
}

// insertAfter scans forward from start, inserting t immediately before the
// first node whose Expire is strictly greater than t.Expire.
func (l *TimerList) insertAfter(t, start *Timer) {
	prev := start
	cur := start.next
	for cur != nil {
		if t.Expire.Before(cur.Expire) {
			prev.next = t
			t.next = cur
			cur.prev = t
			t.prev = prev
			return
		}
		prev = cur
		cur = cur.next
	}
	// Reached the end: append as the new tail.
	prev.next = t
	t.prev = prev
	t.next = nil
	l.tail = t
}

// Adjust is called after t's Expire has been increased (pushed later). If
// t's successor still expires at or after t, the list is already ordered
// and this is a no-op; otherwise t is detached and re-inserted starting
// from its old successor.
func (l *TimerList) Adjust(t *Timer) {
	if t == nil {
		return
	}
	next := t.next
	if next == nil || !t.Expire.After(next.Expire) {
		return
	}
	if t == l.head {
		l.head = next
		next.prev = nil
		t.next = nil
		l.insertAfter(t, l.head)
		return
	}
	t.prev.next = t.next
	t.next.prev = t.prev
	l.insertAfter(t, t.next)
}

// Delete unlinks t from the list.
func (l *TimerList) Delete(t *Timer) {
	if t == nil {
		return
	}
	l.n--
	if t == l.head && t == l.tail {
		l.head, l.tail = nil, nil
		return
	}
	if t == l.head {
		l.head = t.next
		l.head.prev = nil
		return
	}
	if t == l.tail {
		l.tail = t.prev
		l.tail.next = nil
		return
	}
	t.prev.next = t.next
	t.next.prev = t.prev
}

// Tick walks the list from head while head.Expire is at or before now,
// invoking each expired timer's callback and removing it. It reports
// whether any timer fired. Callbacks must not mutate the list themselves;
// Tick performs all removal itself after each callback returns.
func (l *TimerList) Tick(now time.Time) bool {
	fired := false
	for l.head != nil && !l.head.Expire.After(now) {
		t := l.head
		if t.Callback != nil {
			t.Callback(t.UserData)
		}
		l.head = t.next
		if l.head != nil {
			l.head.prev = nil
		} else {
			l.tail = nil
		}
		t.next, t.prev = nil, nil
		l.n--
		fired = true
	}
	return fired
}

// Empty reports whether the list has no timers.
func (l *TimerList) Empty() bool { return l.head == nil }

// count reports the number of timers currently scheduled, for the
// active-timers gauge.
func (l *TimerList) count() int { return l.n }

// checkInvariant walks the list verifying prev.Expire <= n.Expire <=
// next.Expire for every interior node; used by tests.
func (l *TimerList) checkInvariant() bool {
	for n := l.head; n != nil && n.next != nil; n = n.next {
		if n.next.Expire.Before(n.Expire) {
			return false
		}
	}
	return true
}
