package pool

import (
	"errors"
	"io"

	"github.com/arelius/offloadpool/internal/ipc"
)

// resultLoop is the per-worker result dispatcher goroutine, one instance
// per worker so a slow Future handler never stalls another worker's
// delivery. It reads frames from one worker's stdout until the pipe
// closes or the worker exits, translating each into a call against the
// pending Future.
func (p *Pool) resultLoop(w *workerProc) {
	for {
		frame, err := w.recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.cfg.logger.Warn("worker %d: result read failed: %v", w.id, err)
			}
			return
		}
		p.dispatch(w, frame)
	}
}

// dispatch routes one result frame to its Future.
func (p *Pool) dispatch(w *workerProc, frame ipc.ResultFrame) {
	v, ok := p.futures.Load(frame.ID)
	if !ok {
		// The submission's Future was already finalized (e.g. cancelled
		// before dispatch) or belongs to a stale/duplicate frame.
		return
	}
	f := v.(*Future)

	switch frame.Kind {
	case ipc.KindValue:
		var value any
		if err := ipc.DecodeValue(frame.Payload, &value); err != nil {
			p.completeTransportError(f, err)
			w.unmarkOwned(frame.ID)
			return
		}
		f.deliver(value)
		f.complete(FutureDone, nil)
		p.futures.Delete(frame.ID)
		p.purgeCancelFlag(frame.ID)
		w.unmarkOwned(frame.ID)

	case ipc.KindStreamValue:
		var value any
		if err := ipc.DecodeValue(frame.Payload, &value); err != nil {
			p.completeTransportError(f, err)
			w.unmarkOwned(frame.ID)
			return
		}
		f.deliver(value)

	case ipc.KindStreamEnd:
		f.complete(FutureDone, nil)
		p.futures.Delete(frame.ID)
		p.purgeCancelFlag(frame.ID)
		w.unmarkOwned(frame.ID)

	case ipc.KindError:
		f.complete(FutureFailed, &WorkError{
			Kind:      ErrorKind(frame.ErrorKind),
			Message:   frame.Message,
			Traceback: frame.Traceback,
		})
		p.futures.Delete(frame.ID)
		p.purgeCancelFlag(frame.ID)
		w.unmarkOwned(frame.ID)

	case ipc.KindCancelled:
		f.complete(FutureCancelled, &CancelledError{Message: frame.Message})
		p.futures.Delete(frame.ID)
		p.purgeCancelFlag(frame.ID)
		w.unmarkOwned(frame.ID)
	}
}

// purgeCancelFlag removes id's cancel flag (if any) from shared state once
// its Future has reached a terminal state, so the map doesn't accumulate
// one stale entry per submission for the life of the pool.
func (p *Pool) purgeCancelFlag(id uint64) {
	if p.sharedState != nil {
		p.sharedState.Delete(cancelKey(id))
	}
}

func (p *Pool) completeTransportError(f *Future, err error) {
	f.complete(FutureFailed, &WorkError{
		Kind:    KindTransport,
		Message: err.Error(),
	})
	p.futures.Delete(f.id)
	p.purgeCancelFlag(f.id)
}

// onWorkerExit fails every Future still assigned to a submission that
// could have been owned by w with a WorkerCrash WorkError, then, if the
// pool is still Running, schedules a respawn after the configured
// backoff.
func (p *Pool) onWorkerExit(w *workerProc, exitErr error) {
	if exitErr != nil {
		p.cfg.logger.Error("worker %d exited: %v", w.id, exitErr)
	} else {
		p.cfg.logger.Info("worker %d exited", w.id)
	}

	p.failOwnedFutures(w, exitErr)

	if p.state.load() != Running {
		return
	}
	p.respawn(w.id)
}

// failOwnedFutures fails every pending Future dispatched to w with a
// WorkerCrash error.
func (p *Pool) failOwnedFutures(w *workerProc, exitErr error) {
	msg := "worker process exited"
	if exitErr != nil {
		msg = exitErr.Error()
	}
	ids := w.takeOwned()
	for _, id := range ids {
		v, ok := p.futures.Load(id)
		if !ok {
			continue
		}
		f := v.(*Future)
		f.complete(FutureFailed, &WorkError{Kind: KindWorkerCrash, Message: msg})
		p.futures.Delete(id)
		p.purgeCancelFlag(id)
	}
}
