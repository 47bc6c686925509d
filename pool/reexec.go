package pool

import (
	"context"
	"os"
	"reflect"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/arelius/offloadpool/internal/cpu"
	"github.com/arelius/offloadpool/internal/ipc"
	"github.com/panjf2000/ants/v2"
)

// setupAffinity pins this worker's command-loop OS thread to the CPU
// matching its worker id.
func setupAffinity(workerID int) func() {
	return cpu.SetupWorkerAffinity(workerID)
}

// workerNotifyFD is the file descriptor a worker's notification pipe
// arrives on: fd 0/1/2 are stdin/stdout/stderr, so ExtraFiles[0] in the
// parent becomes fd 3 in the child.
const workerNotifyFD = 3

// RunWorkerMain must be the first call in a host program's main(). In
// the main process it returns immediately. In a process spawned by
// StartWorkers it never returns: it runs the worker command loop until
// its stdin pipe closes (the main process is stopping it) and then
// exits the process.
func RunWorkerMain() {
	if os.Getenv(envWorkerMarker) != "1" {
		return
	}
	runWorker()
	os.Exit(0)
}

type cancelCtxKey struct{}

type cancelState struct {
	id        uint64
	client    *sharedStateClient
	cancelled atomic.Bool
}

// IsCancelled reports whether the submission running under ctx has been
// asked to cancel. A streaming callable should check this at every
// iteration; a one-shot callable may check it before expensive steps.
// A local flag is checked first; it is set when the worker had already
// received the submission's cancel notification before the submission
// started, or by an earlier call that found the flag. Otherwise the flag
// is fetched from the main process's shared state over RPC, on every call
// until it is found set.
func IsCancelled(ctx context.Context) bool {
	v := ctx.Value(cancelCtxKey{})
	if v == nil {
		return false
	}
	cs := v.(*cancelState)
	if cs.cancelled.Load() {
		return true
	}
	if cs.client == nil {
		return false
	}
	var flag bool
	if ok, _ := cs.client.Get(cancelKey(cs.id), &flag); ok && flag {
		cs.cancelled.Store(true)
		return true
	}
	return false
}

func runWorker() {
	workerID, _ := strconv.Atoi(os.Getenv(envWorkerID))

	if os.Getenv(envWorkerAffinity) == "1" {
		cleanup := setupAffinity(workerID)
		defer cleanup()
	}

	var client *sharedStateClient
	if addr := os.Getenv(envSharedStateAddr); addr != "" {
		network := os.Getenv(envSharedStateNet)
		c, err := dialSharedState(network, addr)
		if err != nil {
			defaultLogger.Error("worker %d: dial shared state: %v", workerID, err)
		} else {
			client = c
			defer client.Close()
		}
	}

	if err := defaultPool.PrepareGlobals(); err != nil {
		defaultLogger.Error("worker %d: init hook failed: %v", workerID, err)
		return
	}

	submissions := ipc.NewReadCodec[ipc.SubmissionFrame](os.Stdin)
	var resultsMu sync.Mutex
	results := ipc.NewWriteCodec[ipc.ResultFrame](os.Stdout)

	cancelled := &cancelRegistry{}

	notifyFile := os.NewFile(workerNotifyFD, "offloadpool-notify")
	if notifyFile != nil {
		go notificationListener(notifyFile, client, cancelled)
	}

	poolSize := runtime.NumCPU()
	antsPool, err := ants.NewPool(poolSize)
	if err != nil {
		defaultLogger.Error("worker %d: create ants pool: %v", workerID, err)
		return
	}
	defer antsPool.Release()

	var inflight sync.WaitGroup
	for {
		frame, err := submissions.Decode()
		if err != nil {
			break
		}
		f := frame
		inflight.Add(1)
		submitErr := antsPool.Submit(func() {
			defer inflight.Done()
			handleSubmission(f, &resultsMu, results, client, cancelled)
		})
		if submitErr != nil {
			inflight.Done()
			defaultLogger.Warn("worker %d: ants submit failed: %v", workerID, submitErr)
		}
	}
	inflight.Wait()
}

// cancelRegistry tracks submission ids cancelled via a notification. A
// submission that starts after its id was marked begins with its local
// cancelled flag already set; a submission that is already running is not
// updated by a later mark.
type cancelRegistry struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

func (r *cancelRegistry) mark(id uint64) {
	r.mu.Lock()
	if r.ids == nil {
		r.ids = make(map[uint64]struct{})
	}
	r.ids[id] = struct{}{}
	r.mu.Unlock()
}

func (r *cancelRegistry) has(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

func notificationListener(f *os.File, client *sharedStateClient, cancelled *cancelRegistry) {
	codec := ipc.NewReadCodec[ipc.NotificationFrame](f)
	for {
		frame, err := codec.Decode()
		if err != nil {
			return
		}
		switch frame.Name {
		case ipc.NotifyUpdateLogLevel:
			var levelName string
			if err := ipc.DecodeValue(frame.Payload, &levelName); err == nil {
				defaultLogger.SetLevel(ParseLogLevel(levelName))
			}
		case ipc.NotifyUpdateStateValue:
			var payload ipc.UpdateStateValuePayload
			if err := ipc.DecodeValue(frame.Payload, &payload); err == nil && client != nil {
				client.cache.Delete(payload.Key)
			}
		case ipc.NotifyCancel:
			var payload ipc.CancelPayload
			if err := ipc.DecodeValue(frame.Payload, &payload); err == nil {
				cancelled.mark(payload.SubmissionID)
			}
		default:
			invokeCustomNotification(frame)
		}
	}
}

func invokeCustomNotification(frame ipc.NotificationFrame) {
	defaultPool.notifyMu.Lock()
	handler, ok := defaultPool.customNotify[frame.Name]
	defaultPool.notifyMu.Unlock()
	if ok && handler != nil {
		handler(frame.Payload)
	}
}

func handleSubmission(frame ipc.SubmissionFrame, resultsMu *sync.Mutex, results *ipc.Codec[ipc.ResultFrame], client *sharedStateClient, cancelled *cancelRegistry) {
	entry, ok := lookupCallable(frame.Callable)
	if !ok {
		writeResult(resultsMu, results, ipc.ResultFrame{
			Kind: ipc.KindError, ID: frame.ID,
			ErrorKind: string(KindUserFailure), Message: "unknown callable: " + frame.Callable,
		})
		return
	}

	cs := &cancelState{id: frame.ID, client: client}
	if cancelled.has(frame.ID) {
		cs.cancelled.Store(true)
	}
	ctx := context.WithValue(context.Background(), cancelCtxKey{}, cs)

	defer func() {
		if r := recover(); r != nil {
			writeResult(resultsMu, results, ipc.ResultFrame{
				Kind: ipc.KindError, ID: frame.ID,
				ErrorKind: string(KindUserFailure),
				Message:   "panic in callable",
				Traceback: string(debug.Stack()),
			})
		}
	}()

	in := []reflect.Value{reflect.ValueOf(ctx)}
	for i, raw := range frame.Args {
		if i >= len(entry.argTypes) {
			break
		}
		argPtr := reflect.New(entry.argTypes[i])
		if err := ipc.DecodeValue(raw, argPtr.Interface()); err != nil {
			writeResult(resultsMu, results, ipc.ResultFrame{
				Kind: ipc.KindError, ID: frame.ID,
				ErrorKind: string(KindTransport), Message: err.Error(),
			})
			return
		}
		in = append(in, argPtr.Elem())
	}

	if entry.streaming {
		runStreamingCallable(entry, in, frame.ID, cs, resultsMu, results)
		return
	}

	out := entry.fn.Call(in)
	var resultVal any
	if len(out) > 0 {
		resultVal = out[0].Interface()
	}
	if len(out) > 1 {
		if errVal, _ := out[1].Interface().(error); errVal != nil {
			writeResult(resultsMu, results, ipc.ResultFrame{
				Kind: ipc.KindError, ID: frame.ID,
				ErrorKind: string(KindUserFailure), Message: errVal.Error(),
			})
			return
		}
	}
	payload, err := ipc.EncodeValue(resultVal)
	if err != nil {
		writeResult(resultsMu, results, ipc.ResultFrame{
			Kind: ipc.KindError, ID: frame.ID,
			ErrorKind: string(KindTransport), Message: err.Error(),
		})
		return
	}
	writeResult(resultsMu, results, ipc.ResultFrame{Kind: ipc.KindValue, ID: frame.ID, Payload: payload})
}

func runStreamingCallable(entry *callableEntry, in []reflect.Value, id uint64, cs *cancelState, resultsMu *sync.Mutex, results *ipc.Codec[ipc.ResultFrame]) {
	yieldType := entry.fn.Type().In(entry.fn.Type().NumIn() - 1)
	cancelledSent := false
	yield := reflect.MakeFunc(yieldType, func(args []reflect.Value) []reflect.Value {
		if cs.cancelled.Load() {
			if !cancelledSent {
				cancelledSent = true
				writeResult(resultsMu, results, ipc.ResultFrame{Kind: ipc.KindCancelled, ID: id})
			}
			return []reflect.Value{reflect.ValueOf(false)}
		}
		payload, err := ipc.EncodeValue(args[0].Interface())
		if err != nil {
			return []reflect.Value{reflect.ValueOf(false)}
		}
		writeResult(resultsMu, results, ipc.ResultFrame{Kind: ipc.KindStreamValue, ID: id, Payload: payload})
		return []reflect.Value{reflect.ValueOf(true)}
	})
	in = append(in, yield)

	out := entry.fn.Call(in)
	if cancelledSent {
		return
	}
	if len(out) > 0 {
		if errVal, _ := out[0].Interface().(error); errVal != nil {
			writeResult(resultsMu, results, ipc.ResultFrame{
				Kind: ipc.KindError, ID: id,
				ErrorKind: string(KindUserFailure), Message: errVal.Error(),
			})
			return
		}
	}
	if cs.cancelled.Load() {
		writeResult(resultsMu, results, ipc.ResultFrame{Kind: ipc.KindCancelled, ID: id})
		return
	}
	writeResult(resultsMu, results, ipc.ResultFrame{Kind: ipc.KindStreamEnd, ID: id})
}

func writeResult(mu *sync.Mutex, results *ipc.Codec[ipc.ResultFrame], frame ipc.ResultFrame) {
	mu.Lock()
	defer mu.Unlock()
	if err := results.Encode(frame); err != nil {
		defaultLogger.Warn("write result frame: %v", err)
	}
}
