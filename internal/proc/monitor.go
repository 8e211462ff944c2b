package proc

import (
	"fmt"

	gops "github.com/shirou/gopsutil/v4/process"
)

// Usage is one resource sample for a running process.
type Usage struct {
	// CPUPercent is the process CPU utilization since the previous sample.
	CPUPercent float64
	// MemoryBytes is the resident set size.
	MemoryBytes uint64
}

// Sampler reads resource usage for a PID. The production implementation uses
// gopsutil; tests substitute emulated readings to drive ceiling enforcement.
type Sampler interface {
	Sample(pid int) (Usage, error)
}

// SystemSampler samples real process metrics via gopsutil.
type SystemSampler struct{}

// Sample reads RSS and CPU utilization for the given PID.
// Returns an error if the process has already exited.
func (SystemSampler) Sample(pid int) (Usage, error) {
	p, err := gops.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("lookup process %d: %w", pid, err)
	}

	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("read memory for %d: %w", pid, err)
	}

	// CPUPercent is best-effort: a failed read still yields a usable
	// memory sample for ceiling checks.
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}

	return Usage{CPUPercent: cpu, MemoryBytes: mem.RSS}, nil
}

// Verify SystemSampler implements Sampler at compile time.
var _ Sampler = SystemSampler{}
