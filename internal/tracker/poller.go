package tracker

import (
	"context"
	"log"
	"sync"
	"time"
)

// Run polls until ctx is cancelled. It pauses IdleEmpty after a cycle with
// nothing due or a failed cycle, and IdleBusy after a cycle that did work.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("Worker: starting loop (batch=%d, idle=%s/%s)", w.cfg.BatchSize, w.cfg.IdleBusy, w.cfg.IdleEmpty)
	for {
		processed, err := w.RunOnce(ctx)
		idle := w.cfg.IdleBusy
		switch {
		case err != nil && ctx.Err() == nil:
			log.Printf("Worker: cycle failed: %v", err)
			idle = w.cfg.IdleEmpty
		case processed == 0:
			idle = w.cfg.IdleEmpty
		}

		select {
		case <-ctx.Done():
			log.Println("Worker: stopping")
			return
		case <-time.After(idle):
		}
	}
}

// Poller runs the worker loop in the background.
type Poller struct {
	worker   *Worker
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(w *Worker) *Poller {
	return &Poller{
		worker:   w,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		go func() {
			<-p.stopChan
			cancel()
		}()
		p.worker.Run(ctx)
	}()
}

// Stop stops the poller gracefully. An in-flight batch is abandoned
// uncommitted and will be checked again.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}
