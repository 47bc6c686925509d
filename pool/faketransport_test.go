package pool

import (
	"io"

	"github.com/arelius/offloadpool/internal/ipc"
)

// fakeWorker is an in-process stand-in for a real OS worker process,
// wired with in-memory pipes instead of exec.Cmd + stdin/stdout. It lets
// dispatcher and cancellation tests drive the submission/result protocol
// deterministically, without forking a subprocess (which would recurse
// into the test binary itself, since test binaries don't call
// RunWorkerMain).
type fakeWorker struct {
	proc *workerProc

	// the "worker side" of the pipes, used by the test to play the role
	// of the command loop in reexec.go.
	recvSubmissions *ipc.Codec[ipc.SubmissionFrame]
	sendResults     *ipc.Codec[ipc.ResultFrame]
	recvNotify      *ipc.Codec[ipc.NotificationFrame]
}

// newFakeWorker builds a workerProc backed entirely by in-memory pipes.
func newFakeWorker(id int) *fakeWorker {
	subR, subW := io.Pipe()
	resR, resW := io.Pipe()
	notR, notW := io.Pipe()

	proc := &workerProc{
		id:          id,
		submissions: ipc.NewWriteCodec[ipc.SubmissionFrame](subW),
		results:     ipc.NewReadCodec[ipc.ResultFrame](resR),
		notify:      ipc.NewWriteCodec[ipc.NotificationFrame](notW),
		started:     make(chan struct{}),
		exited:      make(chan struct{}),
	}
	close(proc.started)
	proc.alive.Store(true)

	return &fakeWorker{
		proc:            proc,
		recvSubmissions: ipc.NewReadCodec[ipc.SubmissionFrame](subR),
		sendResults:     ipc.NewWriteCodec[ipc.ResultFrame](resW),
		recvNotify:      ipc.NewReadCodec[ipc.NotificationFrame](notR),
	}
}

// simulateCrash marks the worker dead and closes its exited channel,
// mirroring what waitLoop does when cmd.Wait returns.
func (fw *fakeWorker) simulateCrash(p *Pool, exitErr error) {
	fw.proc.alive.Store(false)
	close(fw.proc.exited)
	p.onWorkerExit(fw.proc, exitErr)
}
