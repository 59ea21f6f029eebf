// Package diagnose collects a client-side support bundle: host
// resources plus an optional engine reachability probe. Attach its
// output to bug reports.
package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"sqlrestore/internal/database"
)

// Report is the diagnostic snapshot.
type Report struct {
	CollectedAt time.Time `json:"collected_at"`
	Version     string    `json:"version"`

	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`

	Hostname      string  `json:"hostname,omitempty"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	UptimeHours   float64 `json:"uptime_hours,omitempty"`

	TotalMemory     uint64  `json:"total_memory,omitempty"`
	AvailableMemory uint64  `json:"available_memory,omitempty"`
	MemoryUsedPct   float64 `json:"memory_used_percent,omitempty"`

	DiskTotal   uint64  `json:"disk_total,omitempty"`
	DiskFree    uint64  `json:"disk_free,omitempty"`
	DiskUsedPct float64 `json:"disk_used_percent,omitempty"`

	CPUModel string `json:"cpu_model,omitempty"`

	// Engine probe (filled when a connector is supplied).
	EngineTarget    string `json:"engine_target,omitempty"`
	EngineReachable bool   `json:"engine_reachable"`
	EngineEdition   string `json:"engine_edition,omitempty"`
	EngineError     string `json:"engine_error,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// Collect gathers the host snapshot and, when connector is non-nil,
// probes the engine. Collection failures degrade to warnings: a support
// bundle with holes beats no bundle.
func Collect(ctx context.Context, version string, connector database.Connector) *Report {
	r := &Report{
		CollectedAt: time.Now().UTC(),
		Version:     version,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
	}

	if info, err := host.Info(); err == nil {
		r.Hostname = info.Hostname
		r.Platform = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		r.KernelVersion = info.KernelVersion
		r.UptimeHours = float64(info.Uptime) / 3600
	} else {
		r.Warnings = append(r.Warnings, fmt.Sprintf("host info: %v", err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		r.TotalMemory = vm.Total
		r.AvailableMemory = vm.Available
		r.MemoryUsedPct = vm.UsedPercent
	} else {
		r.Warnings = append(r.Warnings, fmt.Sprintf("memory: %v", err))
	}

	if usage, err := disk.Usage("."); err == nil {
		r.DiskTotal = usage.Total
		r.DiskFree = usage.Free
		r.DiskUsedPct = usage.UsedPercent
	} else {
		r.Warnings = append(r.Warnings, fmt.Sprintf("disk: %v", err))
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		r.CPUModel = infos[0].ModelName
	}

	if connector != nil {
		probeEngine(ctx, connector, r)
	}
	return r
}

func probeEngine(ctx context.Context, connector database.Connector, r *Report) {
	r.EngineTarget = connector.Target()

	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	sess, err := connector.Connect(probeCtx)
	if err != nil {
		r.EngineError = err.Error()
		return
	}
	defer func() { _ = sess.Close() }()

	r.EngineReachable = true
	if edition, err := sess.EngineEdition(probeCtx); err == nil {
		r.EngineEdition = edition.String()
	} else {
		r.Warnings = append(r.Warnings, fmt.Sprintf("engine edition: %v", err))
	}
}

// WriteJSON renders the report for machine consumption.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the report for humans.
func (r *Report) WriteText(w io.Writer) {
	fmt.Fprintf(w, "sqlrestore %s diagnostic report (%s)\n\n", r.Version, r.CollectedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Client:\n")
	fmt.Fprintf(w, "  Go:        %s (%s/%s, %d CPUs)\n", r.GoVersion, r.OS, r.Arch, r.NumCPU)
	if r.Hostname != "" {
		fmt.Fprintf(w, "  Host:      %s (%s, kernel %s)\n", r.Hostname, r.Platform, r.KernelVersion)
	}
	if r.TotalMemory > 0 {
		fmt.Fprintf(w, "  Memory:    %.1f GiB total, %.1f GiB available (%.0f%% used)\n",
			gib(r.TotalMemory), gib(r.AvailableMemory), r.MemoryUsedPct)
	}
	if r.DiskTotal > 0 {
		fmt.Fprintf(w, "  Disk:      %.1f GiB total, %.1f GiB free (%.0f%% used)\n",
			gib(r.DiskTotal), gib(r.DiskFree), r.DiskUsedPct)
	}
	if r.CPUModel != "" {
		fmt.Fprintf(w, "  CPU:       %s\n", r.CPUModel)
	}

	if r.EngineTarget != "" {
		fmt.Fprintf(w, "\nEngine:\n")
		fmt.Fprintf(w, "  Target:    %s\n", r.EngineTarget)
		if r.EngineReachable {
			fmt.Fprintf(w, "  Reachable: yes (%s)\n", r.EngineEdition)
		} else {
			fmt.Fprintf(w, "  Reachable: no\n  Error:     %s\n", r.EngineError)
		}
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "\n[!] %s\n", warning)
	}
}

func gib(b uint64) float64 {
	return float64(b) / (1024 * 1024 * 1024)
}
