package election_test

import (
	"testing"

	"github.com/xu354cjo1008/ctdb/cluster"
	"github.com/xu354cjo1008/ctdb/election"
)

func TestBeats(t *testing.T) {
	tests := []struct {
		name string
		me   election.Candidate
		peer election.Candidate
		want bool
	}{
		{
			name: "banned self always loses",
			me:   election.Candidate{PNN: 9, Flags: cluster.Banned},
			peer: election.Candidate{PNN: 1},
			want: false,
		},
		{
			name: "banned peer always loses to unbanned self",
			me:   election.Candidate{PNN: 1},
			peer: election.Candidate{PNN: 9, Flags: cluster.Banned},
			want: true,
		},
		{
			name: "higher num_connected wins",
			me:   election.Candidate{PNN: 1, NumConnected: 3},
			peer: election.Candidate{PNN: 2, NumConnected: 2},
			want: true,
		},
		{
			name: "lower num_connected loses",
			me:   election.Candidate{PNN: 1, NumConnected: 2},
			peer: election.Candidate{PNN: 2, NumConnected: 3},
			want: false,
		},
		{
			name: "equal num_connected, earlier priority_time wins",
			me:   election.Candidate{PNN: 1, NumConnected: 2, PriorityTime: 100},
			peer: election.Candidate{PNN: 2, NumConnected: 2, PriorityTime: 200},
			want: true,
		},
		{
			name: "equal num_connected, later priority_time loses",
			me:   election.Candidate{PNN: 1, NumConnected: 2, PriorityTime: 200},
			peer: election.Candidate{PNN: 2, NumConnected: 2, PriorityTime: 100},
			want: false,
		},
		{
			name: "equal num_connected and priority_time, higher pnn wins",
			me:   election.Candidate{PNN: 5, NumConnected: 2, PriorityTime: 100},
			peer: election.Candidate{PNN: 3, NumConnected: 2, PriorityTime: 100},
			want: true,
		},
		{
			name: "equal num_connected and priority_time, lower pnn loses",
			me:   election.Candidate{PNN: 3, NumConnected: 2, PriorityTime: 100},
			peer: election.Candidate{PNN: 5, NumConnected: 2, PriorityTime: 100},
			want: false,
		},
		{
			name: "both banned falls through to pnn",
			me:   election.Candidate{PNN: 5, Flags: cluster.Banned},
			peer: election.Candidate{PNN: 3, Flags: cluster.Banned},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := election.Beats(tt.me, tt.peer); got != tt.want {
				t.Errorf("Beats(%+v, %+v) = %v, want %v", tt.me, tt.peer, got, tt.want)
			}
		})
	}
}
