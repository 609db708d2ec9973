// Package stats polls system and process resource usage on a fixed
// interval and caches the latest reading for the stats HTTP endpoint to
// read without blocking on a fresh syscall per request.
package stats

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/ethan/rtp-egress-gateway/pkg/logger"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// pollInterval is how often the reader refreshes its cached Status.
const pollInterval = time.Second

// Status is a snapshot of system and process resource usage.
type Status struct {
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	MemUsedBytes  uint64  `json:"mem_used_bytes"`
	ProcMemBytes  uint64  `json:"proc_mem_bytes"`
	CPUCount      int     `json:"cpu_count"`
	CPUUsedPct    float64 `json:"cpu_used_pct"`
	ProcCPUPct    float64 `json:"proc_cpu_pct"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	ProcID        int32   `json:"proc_id"`
}

// Reader polls system status on an interval and serves the most recent
// reading from memory. The zero value is not usable; construct with New.
type Reader struct {
	log *logger.Logger
	pid int32
	ps  *process.Process

	mu      sync.RWMutex
	current Status
}

// New creates a Reader for the current process and takes one synchronous
// reading before returning, so Status is never called against a zero
// value before the background updater has had a chance to run.
func New(ctx context.Context, log *logger.Logger) (*Reader, error) {
	pid := int32(os.Getpid())

	ps, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		log: log,
		pid: pid,
		ps:  ps,
	}

	r.refresh(ctx)

	go r.run(ctx)

	return r, nil
}

// run refreshes the cached Status every pollInterval until ctx is done.
func (r *Reader) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

// refresh takes one reading of system and process resource usage and
// swaps it into current. Individual metric failures are logged and leave
// that field at its previous value rather than aborting the whole
// refresh.
func (r *Reader) refresh(ctx context.Context) {
	next := r.Status()

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		r.log.DebugIngest("stats: read memory failed", "error", err)
	} else {
		next.MemTotalBytes = vm.Total
		next.MemUsedBytes = vm.Used
	}

	if counts, err := cpu.CountsWithContext(ctx, true); err != nil {
		r.log.DebugIngest("stats: read cpu count failed", "error", err)
	} else {
		next.CPUCount = counts
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		r.log.DebugIngest("stats: read cpu percent failed", "error", err)
	} else if len(pcts) > 0 {
		next.CPUUsedPct = pcts[0]
	}

	if uptime, err := host.UptimeWithContext(ctx); err != nil {
		r.log.DebugIngest("stats: read uptime failed", "error", err)
	} else {
		next.UptimeSeconds = uptime
	}

	if procMem, err := r.ps.MemoryInfoWithContext(ctx); err != nil {
		r.log.DebugIngest("stats: read process memory failed", "error", err)
	} else if procMem != nil {
		next.ProcMemBytes = procMem.RSS
	}

	if procCPU, err := r.ps.PercentWithContext(ctx, 0); err != nil {
		r.log.DebugIngest("stats: read process cpu failed", "error", err)
	} else {
		next.ProcCPUPct = procCPU
	}

	next.ProcID = r.pid

	r.mu.Lock()
	r.current = next
	r.mu.Unlock()
}

// Status returns the most recently cached reading.
func (r *Reader) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}
