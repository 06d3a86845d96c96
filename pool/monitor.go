// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ResourceUsage is one sample of the control plane's resource use.
type ResourceUsage struct {
	// ResidentBytes is the process resident set size.
	ResidentBytes uint64
	// CPUPercent is the process CPU use since it started, where 100 is
	// one core.
	CPUPercent float64
	// HostMemoryPercent is the host's used memory.
	HostMemoryPercent float64
	Goroutines        int
}

// ResourceSampler produces resource samples for pool stats.
type ResourceSampler interface {
	Sample(ctx context.Context) (ResourceUsage, error)
}

// Monitor samples the current process and host with gopsutil.
type Monitor struct {
	process *process.Process
}

// NewMonitor returns a Monitor for the calling process.
func NewMonitor() (*Monitor, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspecting own process: %w", err)
	}
	return &Monitor{process: self}, nil
}

// Sample reads process memory and CPU and host memory. Figures that
// cannot be read are left zero and reported in the joined error; the
// usage returned alongside is still meaningful.
func (m *Monitor) Sample(ctx context.Context) (ResourceUsage, error) {
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	var errs []error

	if memory, err := m.process.MemoryInfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("process memory: %w", err))
	} else {
		usage.ResidentBytes = memory.RSS
	}
	if cpu, err := m.process.CPUPercentWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("process cpu: %w", err))
	} else {
		usage.CPUPercent = cpu
	}
	if host, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host memory: %w", err))
	} else {
		usage.HostMemoryPercent = host.UsedPercent
	}
	return usage, errors.Join(errs...)
}
