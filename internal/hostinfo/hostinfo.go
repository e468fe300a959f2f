// Package hostinfo collects facts about the benchmarking machine so that
// timings can be compared across runs.
package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// Info describes the host a run executed on.
type Info struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Platform     string `json:"platform"`
	Kernel       string `json:"kernel"`
	CPUModel     string `json:"cpu_model"`
	LogicalCPUs  int    `json:"logical_cpus"`
	PhysicalCPUs int    `json:"physical_cpus"`
}

// Collect gathers host facts. Fields that cannot be determined are left
// empty; only a failure to count logical CPUs is reported as an error.
func Collect(ctx context.Context) (Info, error) {
	info := Info{OS: runtime.GOOS}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion)
		info.Kernel = h.KernelVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCPUs = n
	}

	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		info.LogicalCPUs = runtime.NumCPU()
		return info, fmt.Errorf("failed to count CPUs: %w", err)
	}
	info.LogicalCPUs = n
	return info, nil
}

// Oversubscribed reports whether running jobs proofs at once would exceed
// the number of logical CPUs, which skews wall-clock timings.
func (i Info) Oversubscribed(jobs int) bool {
	return i.LogicalCPUs > 0 && jobs > i.LogicalCPUs
}

// String renders a one-line description.
func (i Info) String() string {
	s := fmt.Sprintf("%s (%s", i.Hostname, i.OS)
	if i.Platform != "" && i.Platform != " " {
		s += ", " + i.Platform
	}
	s += fmt.Sprintf(", %d logical CPUs", i.LogicalCPUs)
	if i.CPUModel != "" {
		s += ", " + i.CPUModel
	}
	return s + ")"
}
