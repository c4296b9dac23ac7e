// Package utils holds small shared helpers, currently system statistics
// collection for the status endpoint.
package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// SystemStats contains current system and application statistics.
type SystemStats struct {
	NumCPU      int     `json:"num_cpu"`
	GoRoutines  int     `json:"go_routines"`
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage uint64  `json:"memory_usage"`
	MemoryAlloc uint64  `json:"memory_alloc"`
	MemorySys   uint64  `json:"memory_sys"`

	Timestamp time.Time `json:"timestamp"`
}

// StatsCollector samples CPU and memory usage. CPU readings are cached for a
// short interval because sampling blocks for the measurement window.
type StatsCollector struct {
	mu           sync.Mutex
	lastCPUTime  time.Time
	lastCPUUsage float64
	sampleRate   time.Duration
}

// NewStatsCollector creates a stats collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{sampleRate: 500 * time.Millisecond}
}

// Collect gathers a snapshot of system statistics.
func (c *StatsCollector) Collect() SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		NumCPU:      runtime.NumCPU(),
		GoRoutines:  runtime.NumGoroutine(),
		CPUUsage:    c.cpuUsage(),
		MemoryAlloc: memStats.Alloc,
		MemorySys:   memStats.Sys,
		Timestamp:   time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsage = vm.Used
	} else {
		log.Warnf("Failed to read virtual memory stats: %v", err)
	}
	return stats
}

func (c *StatsCollector) cpuUsage() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastCPUTime) < c.sampleRate && c.lastCPUTime.Unix() > 0 {
		return c.lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("CPU usage measurement failed: %v", err)
		return 0.0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0]
	}
	c.lastCPUTime = time.Now()
	c.lastCPUUsage = usage
	return usage
}

// FormatBytes renders a byte count in human readable units.
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}
