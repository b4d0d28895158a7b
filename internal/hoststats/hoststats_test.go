package hoststats

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

func fakeSampler() *Sampler {
	s := New("")
	s.cpuTimes = func(context.Context) ([]cpu.TimesStat, error) {
		return []cpu.TimesStat{{CPU: "cpu-total", User: 20, System: 10, Idle: 70}}, nil
	}
	s.memory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 200, Used: 50, Available: 150}, nil
	}
	s.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, UsedPercent: 42.5}, nil
	}
	return s
}

func TestSamplePercentages(t *testing.T) {
	got, err := fakeSampler().Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	want := Sample{CPUUser: 20, CPUSystem: 10, CPUIdle: 70, MemoryUsed: 25, MemoryFree: 75, DataDiskUsed: 42.5}
	if got != want {
		t.Fatalf("unexpected sample: %+v want %+v", got, want)
	}

	metrics := got.Metrics()
	if len(metrics) != 6 || metrics[MetricDataDiskUsed] != 42.5 || metrics[MetricCPUIdle] != 70 {
		t.Fatalf("unexpected metrics: %v", metrics)
	}
}

func TestSampleDefaultsDataPath(t *testing.T) {
	s := fakeSampler()
	var seen string
	s.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		seen = path
		return &disk.UsageStat{UsedPercent: math.NaN()}, nil
	}
	got, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if seen != "/" {
		t.Fatalf("expected default path /, got %q", seen)
	}
	if got.DataDiskUsed != 0 {
		t.Fatalf("NaN usage must map to 0, got %v", got.DataDiskUsed)
	}
}

func TestSamplePropagatesErrors(t *testing.T) {
	s := fakeSampler()
	boom := errors.New("boom")
	s.memory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, boom }
	if _, err := s.Sample(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped memory error, got %v", err)
	}

	s = fakeSampler()
	s.cpuTimes = func(context.Context) ([]cpu.TimesStat, error) { return nil, nil }
	if _, err := s.Sample(context.Background()); err == nil {
		t.Fatalf("expected error for empty cpu samples")
	}
}
