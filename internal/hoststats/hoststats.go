package hoststats

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Metric names emitted by Sample.Metrics, matching the broker sample layout.
const (
	MetricCPUUser      = "cpuUser"
	MetricCPUSystem    = "cpuSystem"
	MetricCPUIdle      = "cpuIdle"
	MetricMemoryUsed   = "memoryUsed"
	MetricMemoryFree   = "memoryFree"
	MetricDataDiskUsed = "kafkaDataLogsDiskUsed"
)

// Sample is one host reading expressed as percentages.
// Params: CPU shares since boot, memory used/free share, data disk used share.
// Returns: host reading value.
type Sample struct {
	CPUUser      float64
	CPUSystem    float64
	CPUIdle      float64
	MemoryUsed   float64
	MemoryFree   float64
	DataDiskUsed float64
}

// Metrics returns the reading as builder metric inputs.
// Params: none.
// Returns: metric name to percent value.
func (s Sample) Metrics() map[string]float64 {
	return map[string]float64{
		MetricCPUUser:      s.CPUUser,
		MetricCPUSystem:    s.CPUSystem,
		MetricCPUIdle:      s.CPUIdle,
		MetricMemoryUsed:   s.MemoryUsed,
		MetricMemoryFree:   s.MemoryFree,
		MetricDataDiskUsed: s.DataDiskUsed,
	}
}

// Sampler reads host CPU, memory, and disk usage through gopsutil.
// Params: dataPath filesystem path whose usage stands for the data log disk.
// Returns: sampler instance.
type Sampler struct {
	dataPath  string
	cpuTimes  func(context.Context) ([]cpu.TimesStat, error)
	memory    func(context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage func(context.Context, string) (*disk.UsageStat, error)
}

// New creates a sampler for the host.
// Params: dataPath mount point for disk usage (empty uses "/").
// Returns: configured sampler.
func New(dataPath string) *Sampler {
	path := strings.TrimSpace(dataPath)
	if path == "" {
		path = "/"
	}
	return &Sampler{
		dataPath: path,
		cpuTimes: func(ctx context.Context) ([]cpu.TimesStat, error) {
			return cpu.TimesWithContext(ctx, false)
		},
		memory:    mem.VirtualMemoryWithContext,
		diskUsage: disk.UsageWithContext,
	}
}

// Sample reads one host snapshot.
// Params: ctx for cancellation.
// Returns: percentages or the first read error.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	var out Sample

	times, err := s.cpuTimes(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read cpu times: %w", err)
	}
	if len(times) == 0 {
		return Sample{}, fmt.Errorf("read cpu times: no samples")
	}
	total := cpuTotal(times[0])
	if total > 0 {
		out.CPUUser = percent(times[0].User, total)
		out.CPUSystem = percent(times[0].System, total)
		out.CPUIdle = percent(times[0].Idle, total)
	}

	vm, err := s.memory(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("read virtual memory: %w", err)
	}
	if vm.Total > 0 {
		out.MemoryUsed = percent(float64(vm.Used), float64(vm.Total))
		out.MemoryFree = percent(float64(vm.Available), float64(vm.Total))
	}

	usage, err := s.diskUsage(ctx, s.dataPath)
	if err != nil {
		return Sample{}, fmt.Errorf("read disk usage %q: %w", s.dataPath, err)
	}
	out.DataDiskUsed = finite(usage.UsedPercent)

	return out, nil
}

func cpuTotal(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}

func percent(part float64, total float64) float64 {
	return finite(part / total * 100)
}

// finite maps NaN/Inf readings to zero so builder validation never rejects host data.
func finite(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}
