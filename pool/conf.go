package pool

import (
	"runtime"
	"time"

	"github.com/arelius/offloadpool/internal/algorithms"
	"golang.org/x/time/rate"
)

// config holds the resolved construction-time settings for a Pool,
// assembled from defaults, functional Options, and (if WithConfigFile was
// given) a loaded FileConfig, in that precedence order.
type config struct {
	workerCount     int
	queueCapacity   int
	queueBounded    bool
	offloadEnabled  bool
	failOpenEnabled bool
	logLevel        LogLevel
	logger          *Logger
	stopTimeout     time.Duration
	backoff         algorithms.BackoffStrategy
	configFile      string
	affinityEnabled bool
	limiter         *rate.Limiter
}

func defaultConfig() *config {
	return &config{
		workerCount:     runtime.NumCPU(),
		queueCapacity:   defaultQueueCapacity,
		queueBounded:    false,
		offloadEnabled:  true,
		failOpenEnabled: true,
		logLevel:        LogLevelInfo,
		logger:          defaultLogger,
		stopTimeout:     10 * time.Second,
		backoff:         algorithms.NewBackoffStrategy(algorithms.BackoffDecorrelated, 100*time.Millisecond, 5*time.Second, 0),
		affinityEnabled: false,
	}
}

// Option configures a Pool at construction time using the functional
// options pattern.
type Option func(*config)

// WithWorkerCount sets the number of worker processes StartWorkers spawns.
// n <= 0 falls back to runtime.NumCPU(). StartWorkers caps the count at
// max(1, runtime.NumCPU()-1).
func WithWorkerCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workerCount = n
		}
	}
}

// WithQueueCapacity sets the submission ring buffer's capacity (rounded up
// to the next power of two) and whether Enqueue blocks (bounded=true) or
// grows/retries (bounded=false) when full.
func WithQueueCapacity(capacity int, bounded bool) Option {
	return func(c *config) {
		if capacity > 0 {
			c.queueCapacity = capacity
		}
		c.queueBounded = bounded
	}
}

// WithOffloadDisabled starts the pool with offload disabled; Submit runs
// callables synchronously in-process until EnableOffload is called.
func WithOffloadDisabled() Option {
	return func(c *config) { c.offloadEnabled = false }
}

// WithFailOpenDisabled makes Submit return an error, instead of running
// synchronously, whenever offload is unavailable: an InvalidStateError
// before StartWorkers has been called, ErrOffloadDisabled after.
func WithFailOpenDisabled() Option {
	return func(c *config) { c.failOpenEnabled = false }
}

// WithLogLevel sets the minimum level the pool's logger emits.
func WithLogLevel(level LogLevel) Option {
	return func(c *config) { c.logLevel = level }
}

// WithLogger overrides the pool's logger entirely, e.g. to redirect output
// in tests.
func WithLogger(l *Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultStopTimeout sets how long Stop waits for in-flight
// submissions to drain before force-killing worker processes.
func WithDefaultStopTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithRespawnBackoff overrides the backoff strategy used between a
// worker's crash and its respawn attempt. Defaults to a decorrelated
// jitter strategy.
func WithRespawnBackoff(b algorithms.BackoffStrategy) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithConfigFile loads worker count, queue sizing, policy, log level, and
// stop timeout from a YAML or JSON file. The file is applied after every
// Option passed to New, wherever WithConfigFile appears among them, so a
// value set in the file overrides the same setting given by an Option.
func WithConfigFile(path string) Option {
	return func(c *config) {
		c.configFile = path
	}
}

// WithCPUAffinity pins each worker's command-loop OS thread to a distinct
// CPU.
func WithCPUAffinity(enabled bool) Option {
	return func(c *config) { c.affinityEnabled = enabled }
}

func resolveConfig(opts ...Option) (*config, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	if c.configFile != "" {
		fc, err := LoadConfigFile(c.configFile)
		if err != nil {
			return nil, err
		}
		for _, opt := range applyFileConfig(fc) {
			opt(c)
		}
	}
	return c, nil
}
