package pool

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arelius/offloadpool/internal/ipc"
	"golang.org/x/sync/errgroup"
)

// queuedSubmission pairs a wire-ready frame with the in-process Future it
// feeds, so a feeder goroutine can call Future.tryDispatch before handing
// the frame to a worker.
type queuedSubmission struct {
	frame  ipc.SubmissionFrame
	future *Future
}

// Pool is a process-based work offload manager: it owns a fixed set of
// worker processes, a shared submission queue, and the bookkeeping that
// turns raw result frames back into completed Futures.
//
// The package-level free functions (default.go) wrap a single default
// *Pool; most programs never construct one directly.
type Pool struct {
	cfg *config

	state   stateBox
	nextID  atomic.Uint64
	futures sync.Map // uint64 -> *Future

	queue *submissionQueue[queuedSubmission]

	workersMu sync.RWMutex
	workers   []*workerProc

	sharedState *sharedState

	notifyMu     sync.Mutex
	customNotify map[string]NotificationHandler

	initFuncsMu sync.Mutex
	initFuncs   []func() error

	offloadEnabled atomic.Bool
	failOpen       atomic.Bool

	startOnce    sync.Once
	wg           sync.WaitGroup
	stopCh       chan struct{}
	startedCh    chan struct{}
	loadedCh     chan struct{}
	startedFlag  atomic.Bool
	loadedFlag   atomic.Bool

	statsHistory *statsHistory
}

// New constructs a Pool from the given options without starting it.
func New(opts ...Option) (*Pool, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}
	cfg.logger.SetLevel(cfg.logLevel)
	p := &Pool{
		cfg:          cfg,
		customNotify: make(map[string]NotificationHandler),
		stopCh:       make(chan struct{}),
		startedCh:    make(chan struct{}),
		loadedCh:     make(chan struct{}),
	}
	p.state.store(Uninitialized)
	p.offloadEnabled.Store(cfg.offloadEnabled)
	p.failOpen.Store(cfg.failOpenEnabled)
	p.queue = newSubmissionQueue[queuedSubmission](cfg.queueCapacity, cfg.queueBounded)
	p.statsHistory = newStatsHistory(120)
	return p, nil
}

// AddInitFunc registers a function that PrepareGlobals runs once in the
// calling process. Each worker process calls PrepareGlobals on the
// package-level default pool before it begins serving submissions, so a
// function registered on the default pool from init() code runs once in
// every worker; use it to warm caches or open per-process resources that
// can't cross the process boundary themselves. Functions registered on a
// Pool created with New, or registered in main() after RunWorkerMain,
// never run in a worker.
func (p *Pool) AddInitFunc(fn func() error) {
	p.initFuncsMu.Lock()
	defer p.initFuncsMu.Unlock()
	p.initFuncs = append(p.initFuncs, fn)
}

// PrepareGlobals runs every registered init function in the calling
// process. RunWorkerMain calls this automatically in each worker before
// entering its command loop; callers normally never call it directly.
func (p *Pool) PrepareGlobals() error {
	p.initFuncsMu.Lock()
	fns := append([]func() error(nil), p.initFuncs...)
	p.initFuncsMu.Unlock()
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// StartWorkers transitions the pool Uninitialized -> Starting -> Running,
// spawning n worker processes (n <= 0 uses the configured default), capped
// at max(1, runtime.NumCPU()-1).
// Calling it more than once, or after Stop, returns an InvalidStateError.
func (p *Pool) StartWorkers(n int) error {
	if !p.state.compareAndSwap(Uninitialized, Starting) {
		return &InvalidStateError{Op: "StartWorkers", State: p.state.load()}
	}
	if n > 0 {
		p.cfg.workerCount = n
	}
	if limit := max(1, runtime.NumCPU()-1); p.cfg.workerCount > limit {
		p.cfg.workerCount = limit
	}

	runtimeDir := os.TempDir()
	ss, err := newSharedState(runtimeDir)
	if err != nil {
		p.state.store(Stopped)
		return fmt.Errorf("offloadpool: start shared state: %w", err)
	}
	p.sharedState = ss

	p.workersMu.Lock()
	p.workers = make([]*workerProc, p.cfg.workerCount)
	p.workersMu.Unlock()

	var eg errgroup.Group
	for i := 0; i < p.cfg.workerCount; i++ {
		id := i
		eg.Go(func() error {
			if err := p.startWorker(id); err != nil {
				p.cfg.logger.Error("start worker %d: %v", id, err)
			}
			return nil
		})
	}
	eg.Wait()

	p.state.store(Running)
	if !p.startedFlag.Swap(true) {
		close(p.startedCh)
	}

	for i := 0; i < p.cfg.workerCount; i++ {
		p.wg.Add(1)
		go p.feederLoop(i)
	}

	go p.watchCompleteLoad()
	return nil
}

func (p *Pool) startWorker(id int) error {
	w, err := spawnWorker(id, p)
	if err != nil {
		return err
	}
	p.workersMu.Lock()
	p.workers[id] = w
	p.workersMu.Unlock()
	go p.resultLoop(w)
	return nil
}

// watchCompleteLoad closes loadedCh once every spawned worker's started
// channel is closed, which happens as soon as its process has started.
// Workers send no signal when their init hooks finish, so this does not
// wait for them.
func (p *Pool) watchCompleteLoad() {
	p.workersMu.RLock()
	workers := append([]*workerProc(nil), p.workers...)
	p.workersMu.RUnlock()
	for _, w := range workers {
		if w == nil {
			continue
		}
		<-w.started
	}
	if !p.loadedFlag.Swap(true) {
		close(p.loadedCh)
	}
}

// feederLoop is one of N goroutines racing to pull queued submissions
// off the shared queue and hand them to worker id - pull-based worker
// selection, rather than a fixed assignment.
func (p *Pool) feederLoop(id int) {
	defer p.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		qs, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		if !qs.future.tryDispatch() {
			continue // cancelled while still queued
		}

		p.workersMu.RLock()
		w := p.workers[id]
		p.workersMu.RUnlock()
		if w == nil || !w.alive.Load() {
			// This worker died; requeue for any surviving feeder.
			p.queue.Enqueue(p.stopCh, qs)
			continue
		}

		w.markOwned(qs.frame.ID)
		if err := w.send(qs.frame); err != nil {
			w.unmarkOwned(qs.frame.ID)
			p.cfg.logger.Warn("worker %d: send failed: %v", id, err)
			p.queue.Enqueue(p.stopCh, qs)
		}
	}
}

// respawn starts a fresh worker process with the same id after waiting
// out the configured backoff, replacing the crashed one.
func (p *Pool) respawn(id int) {
	delay := p.cfg.backoff.NextDelay(0, nil)
	select {
	case <-time.After(delay):
	case <-p.stopCh:
		return
	}
	if p.state.load() != Running {
		return
	}
	if err := p.startWorker(id); err != nil {
		p.cfg.logger.Error("respawn worker %d failed: %v", id, err)
		return
	}
	p.cfg.logger.Info("worker %d respawned", id)
}

// Submit enqueues a call to the named callable. If the pool is not
// currently Running (including before StartWorkers has ever been called),
// or offload has been disabled, the callable runs synchronously in the
// calling process instead (fail-open). If DisableFailOpen was called,
// Submit instead returns an InvalidStateError when StartWorkers has never
// been called, and ErrOffloadDisabled otherwise.
func (p *Pool) Submit(name string, opts ...SubmitOption) (*Future, error) {
	so := resolveSubmitOptions(opts...)

	entry, ok := lookupCallable(name)
	if !ok {
		return nil, ErrUnknownCallable
	}

	if !p.startedFlag.Load() && !p.failOpen.Load() {
		return nil, &InvalidStateError{Op: "Submit", State: p.state.load()}
	}

	if p.state.load() != Running || !p.offloadEnabled.Load() {
		if !p.failOpen.Load() {
			return nil, ErrOffloadDisabled
		}
		return p.runInline(entry, so)
	}

	if err := p.waitForSubmitSlot(context.Background()); err != nil {
		return nil, &WorkError{Kind: KindTransport, Message: err.Error()}
	}

	encodedArgs, err := encodeArgs(so.args)
	if err != nil {
		return nil, &WorkError{Kind: KindTransport, Message: err.Error()}
	}

	id := p.nextID.Add(1)
	handler := so.handler
	if handler == nil {
		handler = NewDefaultResultHandler()
	}
	f := newFuture(id, p, handler, so.streaming)
	p.futures.Store(id, f)

	frame := ipc.SubmissionFrame{
		ID:        id,
		Callable:  name,
		Args:      encodedArgs,
		Streaming: so.streaming,
	}
	if err := p.queue.Enqueue(p.stopCh, queuedSubmission{frame: frame, future: f}); err != nil {
		p.futures.Delete(id)
		return nil, &WorkError{Kind: KindTransport, Message: err.Error()}
	}
	return f, nil
}

func encodeArgs(args []any) ([][]byte, error) {
	encoded := make([][]byte, len(args))
	for i, a := range args {
		data, err := ipc.EncodeValue(a)
		if err != nil {
			return nil, err
		}
		encoded[i] = data
	}
	return encoded, nil
}

// EnableOffload re-enables dispatch to worker processes after
// DisableOffload.
func (p *Pool) EnableOffload() { p.offloadEnabled.Store(true) }

// DisableOffload makes Submit run callables synchronously in the calling
// process (subject to fail-open policy) instead of dispatching to a
// worker.
func (p *Pool) DisableOffload() { p.offloadEnabled.Store(false) }

// DisableFailOpen makes Submit return ErrOffloadDisabled, rather than
// running inline, whenever offload is unavailable.
func (p *Pool) DisableFailOpen() { p.failOpen.Store(false) }

// CurrentProcessCount returns the number of currently live worker
// processes.
func (p *Pool) CurrentProcessCount() int {
	p.workersMu.RLock()
	defer p.workersMu.RUnlock()
	n := 0
	for _, w := range p.workers {
		if w != nil && w.alive.Load() {
			n++
		}
	}
	return n
}

// ProcessesStarted reports whether StartWorkers has ever been called.
func (p *Pool) ProcessesStarted() bool { return p.startedFlag.Load() }

// WaitForProcessStart blocks up to timeout for every configured worker
// process to have been spawned at least once.
func (p *Pool) WaitForProcessStart(timeout time.Duration) bool {
	return waitChan(p.startedCh, timeout)
}

// WaitForCompleteLoad blocks up to timeout for every worker process that
// StartWorkers spawned to have started. No signal reports when a worker's
// init hooks have finished, so a true result does not mean they have run.
func (p *Pool) WaitForCompleteLoad(timeout time.Duration) bool {
	return waitChan(p.loadedCh, timeout)
}

func waitChan(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Stop transitions Running -> Stopping -> Stopped: it stops feeding new
// submissions to workers, force-completes as Cancelled anything still
// queued, then closes every worker, giving each up to the configured stop
// timeout to exit before force-killing it, and finally force-completes as
// Cancelled any Future that is still outstanding.
func (p *Pool) Stop() error {
	if !p.state.compareAndSwap(Running, Stopping) {
		if p.state.load() == Stopped {
			return nil
		}
		return &InvalidStateError{Op: "Stop", State: p.state.load()}
	}

	close(p.stopCh)
	p.queue.Close()
	p.wg.Wait()

	// Every feeder has exited by now, so nothing else is racing to pull
	// from the queue: drain whatever is still sitting in it and cancel
	// those Futures directly, since no worker will ever see them.
	for {
		qs, ok := p.queue.TryDequeue()
		if !ok {
			break
		}
		if qs.future.tryDispatch() {
			qs.future.complete(FutureCancelled, &CancelledError{Message: "pool stopped before dispatch"})
		}
		p.futures.Delete(qs.future.id)
		p.purgeCancelFlag(qs.future.id)
	}

	p.workersMu.Lock()
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.close()
		select {
		case <-w.exited:
		case <-time.After(p.cfg.stopTimeout):
			w.kill()
		}
	}
	p.workersMu.Unlock()

	// Catch-all: a Future dispatched to a worker that had to be force-killed
	// never receives a terminal result frame, so resultLoop's dispatch never
	// fires for it. Force every still-outstanding Future to a terminal state
	// here so Result never hangs past Stop.
	p.futures.Range(func(key, value any) bool {
		id := key.(uint64)
		f := value.(*Future)
		f.complete(FutureCancelled, &CancelledError{Message: "pool stopped without a result"})
		p.futures.Delete(id)
		p.purgeCancelFlag(id)
		return true
	})

	if p.sharedState != nil {
		p.sharedState.Close()
	}

	p.state.store(Stopped)
	return nil
}
