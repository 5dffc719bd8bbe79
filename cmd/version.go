package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/vela/internal/catalog"
)

// Set with -ldflags "-X github.com/khanhnv2901/vela/cmd.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type buildInfo struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
	Patterns   int    `json:"embedded_patterns"`
	Categories int    `json:"embedded_categories"`
}

func currentBuildInfo() buildInfo {
	info := buildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	// an unreadable embedded catalog reports zero patterns
	if c, err := catalog.Default(); err == nil {
		info.Patterns = c.Len()
		for _, cc := range c.Categories() {
			if cc.Count > 0 {
				info.Categories++
			}
		}
	}
	return info
}

func writeVersion(w io.Writer, info buildInfo, verbose, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	if !verbose {
		_, err := fmt.Fprintf(w, "vela %s (%d patterns)\n", info.Version, info.Patterns)
		return err
	}
	_, err := fmt.Fprintf(w, `vela %s
  Git Commit:  %s
  Build Date:  %s
  Go Version:  %s
  OS/Arch:     %s
  Catalog:     %d patterns in %d categories (embedded)
`, info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform, info.Patterns, info.Categories)
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and embedded catalog information",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		asJSON, _ := cmd.Flags().GetBool("json")
		return writeVersion(cmd.OutOrStdout(), currentBuildInfo(), verbose, asJSON)
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "Show build and catalog details")
	versionCmd.Flags().Bool("json", false, "Print as JSON")
}
