package engine

import (
	"log"
	"time"
)

// intakeBacklog bounds how many dispatched connections can queue per worker
// before the acceptor backs up.
const intakeBacklog = 128

// worker owns a private, unordered set of connections and advances each one
// by a single step per tick. Hand-off from the acceptor happens over intake;
// the steady-state tick never takes a lock.
type worker struct {
	srv    *Server
	id     int
	intake chan *conn
	conns  []*conn
}

func newWorker(srv *Server, id int) *worker {
	return &worker{srv: srv, id: id, intake: make(chan *conn, intakeBacklog)}
}

// run polls until intake is closed, which only happens when the server shuts
// down; any connections still owned at that point are closed.
func (w *worker) run() {
	buf := getBuffer()
	defer putBuffer(buf)
	defer w.drop()

	for {
		time.Sleep(workerDelay)
		if !w.gather() {
			if w.srv.cfg.Debug {
				log.Printf("worker %d: shutting down", w.id)
			}
			return
		}
		w.sweep(buf)
	}
}

// gather blocks for the first connection when idle, then drains whatever
// else is already queued. Returns false once intake is closed.
func (w *worker) gather() bool {
	if len(w.conns) == 0 {
		c, ok := <-w.intake
		if !ok {
			return false
		}
		w.conns = append(w.conns, c)
	}

	for {
		select {
		case c, ok := <-w.intake:
			if !ok {
				return false
			}
			w.conns = append(w.conns, c)
		default:
			return true
		}
	}
}

// sweep advances every connection once and removes finished ones by swapping
// in the last element, trading iteration order for O(1) removal.
func (w *worker) sweep(buf []byte) {
	for i := 0; i < len(w.conns); {
		c := w.conns[i]

		done, err := c.step(buf)
		if err != nil {
			connectionErrorsTotal.WithLabelValues(errorReason(err)).Inc()
			if w.srv.cfg.Debug {
				log.Printf("worker %d: %v", w.id, err)
			}
			done = true
		}
		if !done {
			i++
			continue
		}

		c.close()
		connectionsActive.Dec()

		last := len(w.conns) - 1
		w.conns[i] = w.conns[last]
		w.conns[last] = nil
		w.conns = w.conns[:last]
	}
}

func (w *worker) drop() {
	for _, c := range w.conns {
		c.close()
		connectionsActive.Dec()
	}
	w.conns = nil
}
