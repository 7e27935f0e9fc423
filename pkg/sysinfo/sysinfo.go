// Package sysinfo describes the host laitest runs on.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is the host summary shown by the health endpoint and in reports.
type Info struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platform_version"`
	KernelVersion   string  `json:"kernel_version"`
	Arch            string  `json:"arch"`
	CPUModel        string  `json:"cpu_model"`
	CPUCores        int     `json:"cpu_cores"`
	MemoryTotalGB   float64 `json:"memory_total_gb"`
	UptimeSeconds   uint64  `json:"uptime_seconds"`
}

// Collect gathers host information. CPU and memory details are best
// effort; only a failure to read basic host info is returned.
func Collect(ctx context.Context) (*Info, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	info := &Info{
		Hostname:        h.Hostname,
		OS:              h.OS,
		Platform:        h.Platform,
		PlatformVersion: h.PlatformVersion,
		KernelVersion:   h.KernelVersion,
		Arch:            runtime.GOARCH,
		UptimeSeconds:   h.Uptime,
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalGB = float64(vm.Total) / (1024 * 1024 * 1024)
	}

	return info, nil
}
