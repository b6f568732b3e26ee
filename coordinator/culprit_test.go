package coordinator_test

import (
	"testing"
	"time"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/coordinator"
)

func TestCulpritThresholdCrossesOnSeventhRecovery(t *testing.T) {
	c := coordinator.NewCulpritTracker(time.Minute)
	numNodes := 3 // threshold is 2*num_nodes = 6, the 7th recovery must cross it

	var banned bool
	var bannedPNN cluster.PNN
	for i := 0; i < 7; i++ {
		c.Note(2)
		if pnn, ok := c.ShouldAutoBan(numNodes); ok {
			banned, bannedPNN = true, pnn
		}
	}
	if !banned {
		t.Fatal("expected the 7th recovery with the same culprit to cross the threshold")
	}
	if bannedPNN != 2 {
		t.Errorf("banned pnn = %d, want 2", bannedPNN)
	}
}

func TestCulpritCounterResetsWhenCulpritChanges(t *testing.T) {
	c := coordinator.NewCulpritTracker(time.Minute)
	for i := 0; i < 5; i++ {
		c.Note(2)
	}
	c.Note(3) // different culprit: counter restarts at 1
	last, _, counter := c.Snapshot()
	if last != 3 || counter != 1 {
		t.Errorf("after culprit change: last=%d counter=%d, want last=3 counter=1", last, counter)
	}
}

func TestCulpritCounterResetsAfterGracePeriod(t *testing.T) {
	c := coordinator.NewCulpritTracker(20 * time.Millisecond)
	c.Note(2)
	time.Sleep(30 * time.Millisecond)
	c.Note(2)
	last, _, counter := c.Snapshot()
	if last != 2 || counter != 1 {
		t.Errorf("after grace period elapsed: last=%d counter=%d, want last=2 counter=1", last, counter)
	}
}

func TestCulpritResetClearsState(t *testing.T) {
	c := coordinator.NewCulpritTracker(time.Minute)
	c.Note(2)
	c.Note(2)
	c.Reset()
	last, firstTime, counter := c.Snapshot()
	if last != cluster.Unknown || counter != 0 || !firstTime.IsZero() {
		t.Errorf("after Reset: last=%d counter=%d firstTime=%v, want zero state", last, counter, firstTime)
	}
}

func TestCulpritRestoreSeedsState(t *testing.T) {
	c := coordinator.NewCulpritTracker(time.Minute)
	now := time.Now()
	c.Restore(5, now, 4)
	last, firstTime, counter := c.Snapshot()
	if last != 5 || counter != 4 || !firstTime.Equal(now) {
		t.Errorf("after Restore: last=%d counter=%d firstTime=%v, want last=5 counter=4 firstTime=%v", last, counter, firstTime, now)
	}
}
