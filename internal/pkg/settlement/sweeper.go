package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const sweepBatchSize = 50

// Sweeper periodically reconciles pending payments whose verdict never
// arrived, covering the case where both the return redirect and the webhook
// were lost.
type Sweeper struct {
	coord    *Coordinator
	interval time.Duration
	minAge   time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper that polls every interval for pending payments
// older than minAge.
func NewSweeper(coord *Coordinator, interval, minAge time.Duration) *Sweeper {
	return &Sweeper{coord: coord, interval: interval, minAge: minAge}
}

// Start launches the sweep loop. Safe to call more than once.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.loop()
	log.Info("[Settlement] Sweeper started")
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	log.Info("[Settlement] Sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			cutoff := time.Now().Add(-s.minAge)
			if err := s.coord.ReconcileStale(context.Background(), cutoff, sweepBatchSize); err != nil {
				log.Errorf("[Settlement] sweep failed: %v", err)
			}
		}
	}
}
