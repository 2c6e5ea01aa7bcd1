package system

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health is a point-in-time process and host snapshot served on /healthz.
type Health struct {
	Status        string    `json:"status"`
	Goroutines    int       `json:"goroutines"`
	MemoryPercent float64   `json:"memory_percent"`
	CPUPercent    float64   `json:"cpu_percent"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	CheckedAt     time.Time `json:"checked_at"`
}

var processStart = time.Now()

// Snapshot collects current health. Host probes are best effort; a probe
// failure leaves its field at zero rather than failing the check.
func Snapshot() Health {
	h := Health{
		Status:        "ok",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(processStart).Seconds(),
		CheckedAt:     time.Now().UTC(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryPercent = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		h.CPUPercent = percents[0]
	}
	return h
}
