package store

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLockTable_StateMachine(t *testing.T) {
	table := NewLockTable(0, nil)

	if !table.Acquire("X", "t1") {
		t.Fatal("Expected lock on unlocked path to succeed")
	}
	if table.Acquire("X", "t2") {
		t.Error("Expected lock by another token to be rejected")
	}
	if table.Acquire("X", "t1") {
		t.Error("Expected re-lock by the holder to be rejected")
	}
	if table.Release("X", "t2") {
		t.Error("Expected unlock with wrong token to be rejected")
	}
	if holder, _ := table.Holder("X"); holder != "t1" {
		t.Errorf("Expected holder t1, got %q", holder)
	}
	if !table.Release("X", "t1") {
		t.Error("Expected unlock by holder to succeed")
	}
	if !table.Acquire("X", "t2") {
		t.Error("Expected lock after release to succeed")
	}
}

func TestLockTable_RejectsEmptyToken(t *testing.T) {
	table := NewLockTable(0, nil)

	if table.Acquire("X", "") {
		t.Error("Expected empty token to be rejected")
	}
	if table.AcquireAll([]string{"X"}, "") {
		t.Error("Expected empty token to be rejected by AcquireAll")
	}
}

func TestLockTable_ReleaseNotLocked(t *testing.T) {
	table := NewLockTable(0, nil)

	if table.Release("X", "t1") {
		t.Error("Expected unlock of unlocked path to fail")
	}
}

func TestLockTable_AcquireAllIsAllOrNothing(t *testing.T) {
	table := NewLockTable(0, nil)
	table.Acquire("Y", "other")

	if table.AcquireAll([]string{"X", "Y", "Z"}, "t1") {
		t.Fatal("Expected AcquireAll to fail when one path is held")
	}
	for _, path := range []string{"X", "Z"} {
		if _, locked := table.Holder(path); locked {
			t.Errorf("Expected %s to stay unlocked after failed AcquireAll", path)
		}
	}
	if holder, _ := table.Holder("Y"); holder != "other" {
		t.Errorf("Expected Y to stay with its holder, got %q", holder)
	}
}

func TestLockTable_ReleaseToken(t *testing.T) {
	table := NewLockTable(0, nil)
	table.AcquireAll([]string{"B", "A"}, "t1")
	table.Acquire("C", "t2")

	released := table.ReleaseToken("t1")
	if len(released) != 2 || released[0] != "A" || released[1] != "B" {
		t.Errorf("Expected [A B] to be released, got %v", released)
	}
	if _, locked := table.Holder("C"); !locked {
		t.Error("Expected C to remain locked by another token")
	}
	if len(table.ReleaseToken("t1")) != 0 {
		t.Error("Expected second release of the same token to free nothing")
	}
}

func TestLockTable_ForceRelease(t *testing.T) {
	table := NewLockTable(0, nil)
	table.Acquire("X", "lost-token")

	holder, ok := table.ForceRelease("X")
	if !ok || holder != "lost-token" {
		t.Errorf("Expected force release of lost-token, got %q %v", holder, ok)
	}
	if _, ok := table.ForceRelease("X"); ok {
		t.Error("Expected force release of unlocked path to fail")
	}
}

func TestLockTable_LeaseExpiry(t *testing.T) {
	clock := newFakeClock()
	table := NewLockTable(10*time.Second, clock.Now)

	table.Acquire("X", "t1")
	clock.Advance(9 * time.Second)
	if _, locked := table.Holder("X"); !locked {
		t.Fatal("Expected lock to hold before the lease elapses")
	}

	clock.Advance(time.Second)
	if _, locked := table.Holder("X"); locked {
		t.Error("Expected lock to expire once the lease elapses")
	}
	if !table.Acquire("X", "t2") {
		t.Error("Expected a new token to acquire an expired lock")
	}
}

func TestLockTable_Renew(t *testing.T) {
	clock := newFakeClock()
	table := NewLockTable(10*time.Second, clock.Now)

	table.Acquire("X", "t1")
	clock.Advance(8 * time.Second)
	table.Renew("X", "t1")
	table.Renew("X", "intruder")
	clock.Advance(8 * time.Second)

	if holder, locked := table.Holder("X"); !locked || holder != "t1" {
		t.Errorf("Expected renewed lock to be held by t1, got %q %v", holder, locked)
	}
}

func TestLockTable_Snapshot(t *testing.T) {
	clock := newFakeClock()
	table := NewLockTable(time.Minute, clock.Now)
	table.Acquire("B", "t1")
	table.Acquire("A", "t2")

	infos := table.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 locks, got %d", len(infos))
	}
	if infos[0].Path != "A" || infos[0].Token != "t2" {
		t.Errorf("Expected first entry A/t2, got %s/%s", infos[0].Path, infos[0].Token)
	}
	if !infos[1].ExpiresAt.Equal(clock.now.Add(time.Minute)) {
		t.Errorf("Expected expiry one minute out, got %v", infos[1].ExpiresAt)
	}
}
