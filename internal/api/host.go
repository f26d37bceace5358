package api

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo describes the machine the daemon runs on.
type HostInfo struct {
	Brand       string `json:"brand"`
	Arch        string `json:"arch"`
	Cores       int    `json:"cores"`
	Threads     int    `json:"threads"`
	MemoryTotal uint64 `json:"memory_total"`
	MemoryUsed  uint64 `json:"memory_used"`
	GoVersion   string `json:"go"`
}

// HostInfoFunc collects HostInfo.
type HostInfoFunc func(ctx context.Context) (HostInfo, error)

// ReadHostInfo reads CPU and memory details with gopsutil.
func ReadHostInfo(ctx context.Context) (HostInfo, error) {
	info := HostInfo{Arch: runtime.GOARCH, GoVersion: runtime.Version()}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("read cpu info: %w", err)
	}
	if len(cpus) > 0 {
		info.Brand = cpus[0].ModelName
	}
	if info.Cores, err = cpu.CountsWithContext(ctx, false); err != nil {
		return HostInfo{}, fmt.Errorf("count cpu cores: %w", err)
	}
	if info.Threads, err = cpu.CountsWithContext(ctx, true); err != nil {
		return HostInfo{}, fmt.Errorf("count cpu threads: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("read memory: %w", err)
	}
	info.MemoryTotal = vm.Total
	info.MemoryUsed = vm.Used
	return info, nil
}
