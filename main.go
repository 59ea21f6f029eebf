// sqlrestore — backup chain restore sequencer for SQL Server.
// Plans full/diff/log chains into ordered RESTORE statements and
// applies them, with point-in-time, mark, standby and page-level
// targets.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"

	"sqlrestore/cmd"
	"sqlrestore/internal/config"
	"sqlrestore/internal/exitcode"
	"sqlrestore/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	if cfg.NoColor {
		logger.DisableColors()
	}

	log, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqlrestore: %v\n", err)
		os.Exit(exitcode.FromError(err))
	}

	applyMemoryLimit(log)

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("sqlrestore failed", "error", err)
		os.Exit(exitcode.FromError(err))
	}
}

// buildLogger honors LOG_FILE: when set, log lines are mirrored into
// the file for later inspection.
func buildLogger(cfg *config.Config) (logger.Logger, error) {
	if cfg.LogFile != "" {
		return logger.FileLogger(cfg.EffectiveLogLevel(), cfg.LogFormat, cfg.LogFile)
	}
	return logger.New(cfg.EffectiveLogLevel(), cfg.LogFormat), nil
}

// applyMemoryLimit caps the Go heap below external memory limits.
// Restores of large striped backups hold sizable row buffers while
// polling, and two environments will kill the process before the Go
// runtime notices pressure:
//  1. cgroup memory limits (Docker, Kubernetes) — the runtime sees host
//     RAM, allocates past the cgroup limit, and the kernel OOM-kills
//     the process with no stack trace.
//  2. vm.overcommit_memory=2 — strict commit accounting fails mmap with
//     'runtime: cannot allocate memory' at the CommitLimit.
//
// Does nothing on non-Linux or when GOMEMLIMIT is already set.
func applyMemoryLimit(log logger.Logger) {
	if os.Getenv("GOMEMLIMIT") != "" {
		return
	}

	if cgroupLimit := detectCgroupMemoryLimit(); cgroupLimit > 0 {
		// 85% of the cgroup limit leaves headroom for non-Go
		// allocations (TLS buffers, kernel buffers).
		limitBytes := int64(float64(cgroupLimit) * 0.85)
		if limitBytes < 256*1024*1024 {
			limitBytes = 256 * 1024 * 1024
		}
		debug.SetMemoryLimit(limitBytes)
		log.Debug("Container memory limit detected: Go heap limit auto-configured",
			"cgroup_limit_mb", cgroupLimit/1024/1024,
			"heap_limit_mb", limitBytes/1024/1024)
		return
	}

	policyData, err := os.ReadFile("/proc/sys/vm/overcommit_memory")
	if err != nil || strings.TrimSpace(string(policyData)) != "2" {
		return
	}

	mem, err := parseProcMeminfo()
	if err != nil {
		log.Warn("vm.overcommit_memory=2 detected but /proc/meminfo is unreadable; set GOMEMLIMIT manually")
		return
	}

	commitLimit := mem["CommitLimit"]  // kB
	committedAS := mem["Committed_AS"] // kB
	availKB := commitLimit - committedAS
	if availKB <= 0 {
		log.Warn("System is at its virtual memory commit limit",
			"commit_limit_mb", commitLimit/1024,
			"committed_as_mb", committedAS/1024)
		return
	}

	limitBytes := int64(float64(availKB*1024) * 0.85)
	if limitBytes < 512*1024*1024 {
		limitBytes = 512 * 1024 * 1024
	}
	debug.SetMemoryLimit(limitBytes)
	log.Debug("vm.overcommit_memory=2 detected: Go heap limit auto-configured",
		"heap_limit_mb", limitBytes/1024/1024)
}

// detectCgroupMemoryLimit reads the container memory limit from cgroup
// v2 or v1, in bytes. 0 means no limit found.
func detectCgroupMemoryLimit() int64 {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		s := strings.TrimSpace(string(data))
		if s != "max" {
			if limit, err := strconv.ParseInt(s, 10, 64); err == nil && limit > 0 {
				return limit
			}
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		if limit, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
			// Values near 1<<63 mean unlimited.
			if limit > 0 && limit < 1<<62 {
				return limit
			}
		}
	}
	return 0
}

// parseProcMeminfo returns /proc/meminfo as key→kB.
func parseProcMeminfo() (map[string]int64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	result := make(map[string]int64)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		result[strings.TrimSuffix(fields[0], ":")] = val
	}
	return result, nil
}
