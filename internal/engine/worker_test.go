package engine

import (
	"math/rand"
	"testing"

	"golang.org/x/sys/unix"
)

// Finished connections are removed by swap-with-last; after a sweep the live
// set must hold exactly the still-active connections, whatever order things
// finished in.
func TestSweepSwapRemove(t *testing.T) {
	srv := testServer(t, Config{})
	rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test shuffle

	for round := 0; round < 25; round++ {
		w := newWorker(srv, 0)
		active := make(map[*conn]bool)
		var peers []int

		for i := 0; i < 1+rng.Intn(12); i++ {
			fd, peer := socketPair(t)
			peers = append(peers, peer)

			c := newConn(srv, fd)
			if rng.Intn(2) == 0 {
				c.state = stateDone
			} else {
				active[c] = true // stateInit with no data: would-block every tick
			}
			w.conns = append(w.conns, c)
		}

		buf := make([]byte, bufferSize)
		w.sweep(buf)

		if len(w.conns) != len(active) {
			t.Fatalf("round %d: got %d live connections, want %d", round, len(w.conns), len(active))
		}
		seen := make(map[*conn]bool)
		for _, c := range w.conns {
			if !active[c] {
				t.Fatalf("round %d: finished connection still in live set", round)
			}
			if seen[c] {
				t.Fatalf("round %d: duplicate connection in live set", round)
			}
			seen[c] = true
		}

		// Closing every peer finishes the survivors on the next sweep.
		for _, p := range peers {
			_ = unix.Close(p)
		}
		w.sweep(buf)
		if len(w.conns) != 0 {
			t.Fatalf("round %d: %d connections left after all peers closed", round, len(w.conns))
		}
	}
}
