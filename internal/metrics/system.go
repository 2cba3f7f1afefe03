package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// SystemSnapshot describes host resource usage.
type SystemSnapshot struct {
	CPUCount      int     `json:"cpu_count"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotal     uint64  `json:"disk_total_bytes"`
	DiskPercent   float64 `json:"disk_percent"`
}

// ProcessSnapshot describes this process's resource usage.
type ProcessSnapshot struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	VMSBytes   uint64  `json:"vms_bytes"`
	NumThreads int32   `json:"num_threads"`
	Goroutines int     `json:"goroutines"`
	HeapAlloc  uint64  `json:"heap_alloc_bytes"`
	NumGC      uint32  `json:"num_gc"`
	GoMaxProcs int     `json:"gomaxprocs"`
}

// CollectSystem samples host CPU, memory and root disk usage. Fields whose
// read fails are left zero; the first read error is returned.
func CollectSystem(ctx context.Context) (SystemSnapshot, error) {
	var (
		s        SystemSnapshot
		firstErr error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	count, err := cpu.CountsWithContext(ctx, true)
	keep(err)
	s.CPUCount = count

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = round2(pct[0])
	} else {
		keep(err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryPercent = round2(vm.UsedPercent)
	} else {
		keep(err)
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		s.DiskTotal = du.Total
		s.DiskPercent = round2(du.UsedPercent)
	} else {
		keep(err)
	}

	return s, firstErr
}

// CollectProcess samples this process through gopsutil and the Go runtime.
func CollectProcess(ctx context.Context) (ProcessSnapshot, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := ProcessSnapshot{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoMaxProcs: runtime.GOMAXPROCS(0),
	}

	p, err := process.NewProcessWithContext(ctx, s.PID)
	if err != nil {
		return s, err
	}

	var firstErr error
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
		s.RSSBytes = mi.RSS
		s.VMSBytes = mi.VMS
	} else {
		firstErr = err
	}
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = round2(pct)
	} else if firstErr == nil {
		firstErr = err
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		s.NumThreads = n
	} else if firstErr == nil {
		firstErr = err
	}

	return s, firstErr
}
