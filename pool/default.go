package pool

import (
	"time"
)

// defaultPool is the package-level Pool every free function below
// delegates to. Constructing it eagerly (rather than via sync.Once)
// keeps Register/RegisterStreaming usable from init() functions that run
// before any explicit pool.New call could - the registry in registry.go
// is independent of any particular Pool instance, but AddInitFunc and the
// default pool itself need to exist just as early.
var defaultPool, _ = New()

// AddInitFunc registers a function run once in every worker process
// before it begins serving submissions, on the default pool.
func AddInitFunc(fn func() error) { defaultPool.AddInitFunc(fn) }

// StartWorkers starts the default pool's worker processes. n <= 0 uses
// the configured worker count (runtime.NumCPU() unless set otherwise);
// either way the count is capped at max(1, runtime.NumCPU()-1).
func StartWorkers(n int) error { return defaultPool.StartWorkers(n) }

// Stop stops the default pool.
func Stop() error { return defaultPool.Stop() }

// Submit dispatches a call to the named callable on the default pool.
func Submit(name string, opts ...SubmitOption) (*Future, error) {
	return defaultPool.Submit(name, opts...)
}

// EnableOffload re-enables dispatch on the default pool.
func EnableOffload() { defaultPool.EnableOffload() }

// DisableOffload disables dispatch on the default pool.
func DisableOffload() { defaultPool.DisableOffload() }

// DisableFailOpen disables fail-open on the default pool.
func DisableFailOpen() { defaultPool.DisableFailOpen() }

// CurrentProcessCount reports the default pool's live worker count.
func CurrentProcessCount() int { return defaultPool.CurrentProcessCount() }

// ProcessesStarted reports whether the default pool's StartWorkers has
// run.
func ProcessesStarted() bool { return defaultPool.ProcessesStarted() }

// WaitForProcessStart waits for the default pool's workers to start.
func WaitForProcessStart(timeout time.Duration) bool {
	return defaultPool.WaitForProcessStart(timeout)
}

// WaitForCompleteLoad waits for the default pool's workers to have
// started; see Pool.WaitForCompleteLoad.
func WaitForCompleteLoad(timeout time.Duration) bool {
	return defaultPool.WaitForCompleteLoad(timeout)
}

// AddCustomNotification registers a custom notification handler on the
// default pool.
func AddCustomNotification(name string, handler NotificationHandler) {
	defaultPool.AddCustomNotification(name, handler)
}

// EnqueueNotification fans a custom notification out on the default
// pool.
func EnqueueNotification(name string, payload any) error {
	return defaultPool.EnqueueNotification(name, payload)
}

// UpdateLogLevel retunes logging across the default pool's workers.
func UpdateLogLevel(level LogLevel) error { return defaultPool.UpdateLogLevel(level) }

// UpdateStateValue writes a shared state value visible to the default
// pool's workers.
func UpdateStateValue(key string, value any) error {
	return defaultPool.UpdateStateValue(key, value)
}

// Default returns the package-level default Pool, for callers that need
// direct access (e.g. to read Stats).
func Default() *Pool { return defaultPool }
