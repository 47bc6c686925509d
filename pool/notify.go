package pool

import (
	"strconv"

	"github.com/arelius/offloadpool/internal/ipc"
)

// NotificationHandler processes a custom notification's payload in the
// process that receives it. Built-in notifications (update_log_level,
// update_state_value, cancel) are handled directly by reexec.go's
// listener and are not exposed through this registry.
type NotificationHandler func(payload []byte)

// AddCustomNotification registers a handler for a user-defined
// notification name, invoked in every worker process whenever
// EnqueueNotification(name, payload) is called on the pool.
// It must be called before StartWorkers so that workers bootstrapped
// afterward also carry the registration across the process boundary via
// their own call to AddCustomNotification in an init() function.
func (p *Pool) AddCustomNotification(name string, handler NotificationHandler) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.customNotify[name] = handler
}

// EnqueueNotification fans payload out to every live worker process
// under the given notification name. Built-in names (update_log_level,
// update_state_value, cancel) are reserved; use UpdateLogLevel,
// UpdateStateValue, or a Future's Cancel method instead of this method
// for those.
func (p *Pool) EnqueueNotification(name string, payload any) error {
	data, err := ipc.EncodeValue(payload)
	if err != nil {
		return err
	}
	frame := ipc.NotificationFrame{Name: name, Payload: data}
	return p.broadcastNotification(frame)
}

func (p *Pool) broadcastNotification(frame ipc.NotificationFrame) error {
	p.workersMu.RLock()
	defer p.workersMu.RUnlock()
	var firstErr error
	for _, w := range p.workers {
		if w == nil || !w.alive.Load() {
			continue
		}
		if err := w.sendNotification(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UpdateLogLevel retunes every worker's (and this process's) logger via
// the built-in update_log_level notification.
func (p *Pool) UpdateLogLevel(level LogLevel) error {
	p.cfg.logger.SetLevel(level)
	data, err := ipc.EncodeValue(level.String())
	if err != nil {
		return err
	}
	return p.broadcastNotification(ipc.NotificationFrame{Name: ipc.NotifyUpdateLogLevel, Payload: data})
}

// UpdateStateValue writes key=value into shared state and notifies every
// worker so a worker-local cache is invalidated immediately rather than
// waiting for its next Get.
func (p *Pool) UpdateStateValue(key string, value any) error {
	if p.sharedState != nil {
		if err := p.sharedState.Set(key, value); err != nil {
			return err
		}
	}
	data, err := ipc.EncodeValue(ipc.UpdateStateValuePayload{Key: key})
	if err != nil {
		return err
	}
	return p.broadcastNotification(ipc.NotificationFrame{Name: ipc.NotifyUpdateStateValue, Payload: data})
}

// requestCancel publishes a cancel flag for id in shared state and
// notifies every worker, so a streaming callable's next IsCancelled
// check observes it regardless of which worker owns the submission. It
// is only called for submissions already handed to a worker; Future.Cancel
// completes not-yet-dispatched submissions itself, without involving a
// worker at all.
func (p *Pool) requestCancel(id uint64) {
	if p.sharedState != nil {
		p.sharedState.Set(cancelKey(id), true)
	}
	data, _ := ipc.EncodeValue(ipc.CancelPayload{SubmissionID: id})
	p.broadcastNotification(ipc.NotificationFrame{Name: ipc.NotifyCancel, Payload: data})
}

func cancelKey(id uint64) string {
	return "offloadpool:cancel:" + strconv.FormatUint(id, 10)
}
