package pool

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Stats is a point-in-time snapshot of a Pool's worker fleet, used by
// PrintStats for interactive diagnostics.
type Stats struct {
	Taken         time.Time
	State         State
	WorkerCount   int
	LiveWorkers   int
	QueueDepth    int
	PendingFuture int
}

// statsHistory retains a bounded window of recent Stats snapshots,
// backed by eapache/queue's ring-buffer-backed FIFO so pushing past
// limit evicts the oldest snapshot in O(1) rather than re-slicing.
type statsHistory struct {
	mu    sync.Mutex
	q     *queue.Queue
	limit int
}

func newStatsHistory(limit int) *statsHistory {
	return &statsHistory{q: queue.New(), limit: limit}
}

func (h *statsHistory) push(s Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.q.Add(s)
	for h.q.Length() > h.limit {
		h.q.Remove()
	}
}

func (h *statsHistory) snapshot() []Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Stats, h.q.Length())
	for i := range out {
		out[i] = h.q.Get(i).(Stats)
	}
	return out
}

// Stats reports a snapshot of the pool's current worker fleet.
func (p *Pool) Stats() Stats {
	p.workersMu.RLock()
	live := 0
	for _, w := range p.workers {
		if w != nil && w.alive.Load() {
			live++
		}
	}
	total := len(p.workers)
	p.workersMu.RUnlock()

	pending := 0
	p.futures.Range(func(_, _ any) bool { pending++; return true })

	s := Stats{
		Taken:         time.Now(),
		State:         p.state.load(),
		WorkerCount:   total,
		LiveWorkers:   live,
		QueueDepth:    p.queue.Len(),
		PendingFuture: pending,
	}
	if p.statsHistory != nil {
		p.statsHistory.push(s)
	}
	return s
}

// PrintStats renders the current Stats snapshot to w as a plain, uncolored
// table. If rendering fails and w is a terminal (golang.org/x/term.IsTerminal),
// the error is printed to w in red via fatih/color.
func (p *Pool) PrintStats(w io.Writer) {
	s := p.Stats()
	colorEnabled := isTerminalWriter(w)

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	_ = table.Append("State", s.State.String())
	_ = table.Append("Workers (live/total)", fmt.Sprintf("%d/%d", s.LiveWorkers, s.WorkerCount))
	_ = table.Append("Queue depth", fmt.Sprintf("%d", s.QueueDepth))
	_ = table.Append("Pending futures", fmt.Sprintf("%d", s.PendingFuture))
	if err := table.Render(); err != nil && colorEnabled {
		color.New(color.FgRed).Fprintln(w, "error rendering stats table:", err)
	}
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// NewLoadProgressBar returns a progress bar tracking how many of the
// pool's configured workers have finished starting, suitable for a CLI
// host program to poll via CurrentProcessCount while waiting on
// WaitForProcessStart.
func (p *Pool) NewLoadProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(p.cfg.workerCount,
		progressbar.OptionSetDescription("starting workers"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
