package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Go      string `json:"go"`
}

var versionInfo = VersionInfo{Version: "dev", Commit: "none", Date: "unknown"}

// SetVersionInfo records build metadata for `gridctl version`.
func SetVersionInfo(version, commit, date string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
	rootCmd.Version = version
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo
		info.Go = runtime.Version()
		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(cmd.OutOrStdout(), info)
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "gridctl %s (commit %s, built %s, %s)\n", info.Version, info.Commit, info.Date, info.Go)
		return err
	},
}
