package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

var versionOutputFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Long: `Display version information including:

  - sqlrestore version, build time, and git commit
  - Go runtime version
  - Operating system and architecture
  - Installed SQL Server client tool versions (sqlcmd, bcp)

Useful for troubleshooting and bug reports.

Examples:
  # Show version info
  sqlrestore version

  # JSON output for scripts
  sqlrestore version --format json

  # Short version only
  sqlrestore version --format short`,
	Run: runVersionCmd,
}

func init() {
	versionCmd.Flags().StringVar(&versionOutputFormat, "format", "table", "Output format (table, json, short)")
	rootCmd.AddCommand(versionCmd)
}

type versionInfo struct {
	Version     string            `json:"version"`
	BuildTime   string            `json:"build_time"`
	GitCommit   string            `json:"git_commit"`
	GoVersion   string            `json:"go_version"`
	OS          string            `json:"os"`
	Arch        string            `json:"arch"`
	NumCPU      int               `json:"num_cpu"`
	ClientTools map[string]string `json:"client_tools"`
}

func runVersionCmd(cmd *cobra.Command, args []string) {
	info := collectVersionInfo()

	switch versionOutputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(info)
	case "short":
		fmt.Printf("sqlrestore %s\n", info.Version)
	default:
		printVersionTable(info)
	}
}

func collectVersionInfo() versionInfo {
	info := versionInfo{
		Version:     cfg.Version,
		BuildTime:   cfg.BuildTime,
		GitCommit:   cfg.GitCommit,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		ClientTools: make(map[string]string),
	}

	tools := []struct {
		name string
		args []string
	}{
		{"sqlcmd", []string{"-?"}},
		{"bcp", []string{"-v"}},
	}
	for _, tool := range tools {
		if v := toolVersion(tool.name, tool.args); v != "" {
			info.ClientTools[tool.name] = v
		}
	}
	return info
}

// toolVersion runs a client tool's version switch and keeps the first
// line that mentions a version.
func toolVersion(command string, args []string) string {
	out, err := exec.Command(command, args...).CombinedOutput()
	if err != nil && len(out) == 0 {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	return ""
}

func printVersionTable(info versionInfo) {
	fmt.Printf("sqlrestore %s\n", info.Version)
	if info.GitCommit != "" {
		fmt.Printf("  commit:     %s\n", info.GitCommit)
	}
	if info.BuildTime != "" {
		fmt.Printf("  built:      %s\n", info.BuildTime)
	}
	fmt.Printf("  go:         %s\n", info.GoVersion)
	fmt.Printf("  platform:   %s/%s (%d CPUs)\n", info.OS, info.Arch, info.NumCPU)
	if len(info.ClientTools) == 0 {
		fmt.Println("  tools:      none found (sqlcmd, bcp)")
		return
	}
	for name, v := range info.ClientTools {
		fmt.Printf("  %-11s %s\n", name+":", v)
	}
}
