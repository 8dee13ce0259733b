package worker

import (
	"sync"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/metrics"
)

type task func()

// Pool is a fixed-size worker pool used to process the transactions of a
// dispatch batch concurrently. Callers needing to wait for a batch pair
// Submit with their own WaitGroup.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
				metrics.WorkerQueueDepth.Dec()
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f task) {
	metrics.WorkerQueueDepth.Inc()
	p.jobs <- f
}

func (p *Pool) Stop() { close(p.jobs); p.wg.Wait() }
