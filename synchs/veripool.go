package synchs

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// VeriTask is a side-effect-free signature check.
type VeriTask func() bool

// VeriPool runs verification tasks on a bounded set of workers (C8)
// and reports each verdict through a promise. The engine goroutine
// never blocks on it: continuations re-enter the engine through its
// event queue.
type VeriPool struct {
	tasks      chan veriJob
	logger     hclog.Logger
	shutdownCh chan struct{}
	once       sync.Once
}

type veriJob struct {
	task    VeriTask
	verdict *Promise
}

func NewVeriPool(workers int, logger hclog.Logger) *VeriPool {
	if workers <= 0 {
		workers = 1
	}
	vp := &VeriPool{
		tasks:      make(chan veriJob, workers*4),
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go vp.worker()
	}
	return vp
}

// Submit queues a verification task and returns the verdict promise.
// After Close the promise never resolves.
func (vp *VeriPool) Submit(task VeriTask) *Promise {
	verdict := NewPromise()
	select {
	case vp.tasks <- veriJob{task: task, verdict: verdict}:
	case <-vp.shutdownCh:
		vp.logger.Debug("verification task dropped after shutdown")
	}
	return verdict
}

func (vp *VeriPool) worker() {
	for {
		select {
		case job := <-vp.tasks:
			job.verdict.Resolve(job.task())
		case <-vp.shutdownCh:
			return
		}
	}
}

// Close stops the workers. Queued tasks may be dropped.
func (vp *VeriPool) Close() {
	vp.once.Do(func() { close(vp.shutdownCh) })
}
