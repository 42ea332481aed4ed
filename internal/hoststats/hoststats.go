// Package hoststats reports CPU, memory and disk usage of the machine the
// bot runs on, for /status and the /stats endpoint.
package hoststats

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPath      string  `json:"disk_path"`
	DiskUsed      uint64  `json:"disk_used_bytes"`
	DiskTotal     uint64  `json:"disk_total_bytes"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Func returns a Snapshot. Collector.Collect satisfies it.
type Func func(ctx context.Context) (Snapshot, error)

// Collector samples the host. Disk usage is reported for the filesystem
// holding DiskPath, normally the temp directory.
type Collector struct {
	DiskPath string
}

// NewCollector creates a Collector for the filesystem holding diskPath.
func NewCollector(diskPath string) *Collector {
	return &Collector{DiskPath: diskPath}
}

// Collect samples CPU, memory and disk. CPU usage is measured since the
// previous call, so it never blocks.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	s := Snapshot{DiskPath: c.DiskPath}

	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cpu usage: %w", err)
	}
	if len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("memory usage: %w", err)
	}
	s.MemoryUsed = vm.Used
	s.MemoryTotal = vm.Total
	s.MemoryPercent = vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, c.DiskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("disk usage of %s: %w", c.DiskPath, err)
	}
	s.DiskUsed = du.Used
	s.DiskTotal = du.Total
	s.DiskPercent = du.UsedPercent

	return s, nil
}
