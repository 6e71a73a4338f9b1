// Package scheduler runs the periodic maintenance jobs (chapter and
// statistics recompute, lock sweep, comment deletion) and delayed one-shot
// tasks such as the machine translation worker's self-reschedule.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron   *cron.Cron
	log    *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers []*time.Timer
}

func New(logger *log.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers a periodic job. The interval uses cron's @every syntax so
// the first run happens one interval after Start.
func (s *Scheduler) Every(interval time.Duration, name string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		if err := job(s.ctx); err != nil {
			s.log.Printf("scheduler: %s: %v", name, err)
		}
	})
	return err
}

// After runs the job once after the delay. A stopped scheduler drops
// pending one-shots.
func (s *Scheduler) After(delay time.Duration, name string, job func(ctx context.Context) error) {
	s.wg.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := job(s.ctx); err != nil {
			s.log.Printf("scheduler: %s: %v", name, err)
		}
	})
	s.mu.Lock()
	s.timers = append(s.timers, timer)
	s.mu.Unlock()
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels pending work and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	for _, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
	}
	s.timers = nil
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
