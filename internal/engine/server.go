package engine

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
)

// Server accepts client connections and distributes them round-robin across
// a fixed pool of workers. Accept is the only blocking call it makes.
type Server struct {
	ctx     context.Context
	cfg     Config
	workers []*worker
	wg      sync.WaitGroup
}

// New constructs a Server with the given config. Workers start when Serve is
// called.
func New(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}

	s := &Server{ctx: ctx, cfg: cfg}
	for i := range cfg.workerCount() {
		s.workers = append(s.workers, newWorker(s, i))
	}
	return s
}

// Workers returns the worker pool size.
func (s *Server) Workers() int {
	return len(s.workers)
}

// Serve accepts connections on ln until it is closed, handing each accepted
// socket to the next worker. Worker intakes are closed and drained before
// Serve returns.
func (s *Server) Serve(ln net.Listener) error {
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w *worker) {
			defer s.wg.Done()
			w.run()
		}(w)
	}
	defer func() {
		for _, w := range s.workers {
			close(w.intake)
		}
		s.wg.Wait()
	}()

	next := 0
	for {
		nc, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}

		if err := s.dispatch(nc, next); err != nil {
			if s.cfg.Debug {
				log.Printf("dispatch: %v", err)
			}
			continue
		}
		next = (next + 1) % len(s.workers)
	}
}

// dispatch converts an accepted socket into a non-blocking raw descriptor
// and queues it on a worker. This is the only place connections are created.
func (s *Server) dispatch(nc net.Conn, next int) error {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		_ = nc.Close()
		return fmt.Errorf("accepted non-TCP connection %T", nc)
	}

	fd, err := dupNonblockFD(tc)
	_ = tc.Close()
	if err != nil {
		return err
	}

	connectionsTotal.Inc()
	connectionsActive.Inc()
	s.workers[next].intake <- newConn(s, fd)
	return nil
}
