package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/pattern"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

var patternsCmd = &cobra.Command{
	Use:     "patterns",
	Aliases: []string{"pattern"},
	Short:   "Curate the known third-party script catalog",
	Long: `Manage the pattern store that backs catalog.source=store. The running
server picks up changes on SIGHUP.`,
}

func patternStore(cmd *cobra.Command) (pattern.Repository, error) {
	services, err := getAppContext(cmd).Services()
	if err != nil {
		return nil, err
	}
	return services.Patterns()
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := patternStore(cmd)
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		vendor, _ := cmd.Flags().GetString("vendor")
		search, _ := cmd.Flags().GetString("search")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, total, err := repo.List(cmd.Context(), pattern.Filter{
			Category:        pattern.Category(strings.ToLower(category)),
			Vendor:          vendor,
			Search:          search,
			IncludeInactive: all,
			Limit:           limit,
		})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println(colorWarn("No patterns found."))
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tVENDOR\tCATEGORY\tPATTERNS\tACTIVE")
		for _, e := range entries {
			active := colorSuccess("yes")
			if !e.Active {
				active = colorWarn("no")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.Name, e.Vendor, e.Category, len(e.URLPatterns), active)
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to flush pattern table: %w", err)
		}
		fmt.Printf("\nShowing %d of %d\n", len(entries), total)
		return nil
	},
}

var patternsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one stored pattern as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := patternStore(cmd)
		if err != nil {
			return err
		}
		entry, err := repo.Get(cmd.Context(), args[0])
		if errors.Is(err, sharedErrors.ErrPatternNotFound) {
			return &PatternNotFoundError{ID: args[0]}
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

var patternsIdentifyCmd = &cobra.Command{
	Use:   "identify <url>...",
	Short: "Classify script URLs against the active catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > constants.MaxBatchIdentify {
			return fmt.Errorf("at most %d URLs can be identified at once", constants.MaxBatchIdentify)
		}
		services, err := getAppContext(cmd).Services()
		if err != nil {
			return err
		}
		cat := services.Catalogs.Current()

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "URL\tRESULT\tPATTERN\tCATEGORY")
		identified := 0
		for _, u := range args {
			match := cat.Match(u)
			if !match.Identified() {
				fmt.Fprintf(tw, "%s\t%s\t-\t-\n", truncate(u, 80), colorWarn("unknown"))
				continue
			}
			identified++
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", truncate(u, 80), formatStatusWithColor("identified"), match.Entry.ID, match.Entry.Category)
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to flush identify table: %w", err)
		}
		fmt.Printf("\n%d of %d identified\n", identified, len(args))
		return nil
	},
}

var patternsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import patterns from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		entries, err := catalog.LoadFile(args[0], appCtx.Logger)
		if err != nil {
			return err
		}
		replace, _ := cmd.Flags().GetBool("replace")
		return storeEntries(cmd, entries, replace)
	},
}

var patternsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the built-in catalog into the pattern store",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := catalog.DefaultEntries()
		if err != nil {
			return err
		}
		return storeEntries(cmd, entries, true)
	},
}

// storeEntries writes entries one by one so a bad entry does not abort the
// rest. With replace false, existing ids are skipped.
func storeEntries(cmd *cobra.Command, entries []pattern.Entry, replace bool) error {
	repo, err := patternStore(cmd)
	if err != nil {
		return err
	}
	logger := getAppContext(cmd).Logger

	var stored, skipped, failed int
	for _, e := range entries {
		if replace {
			err = repo.Upsert(cmd.Context(), e)
		} else {
			err = repo.Create(cmd.Context(), e)
		}
		switch {
		case err == nil:
			stored++
		case errors.Is(err, sharedErrors.ErrDuplicatePattern):
			skipped++
		default:
			failed++
			logger.Warn("pattern_import_failed", zap.String("pattern_id", e.ID), zap.Error(err))
			fmt.Printf("%s %s: %v\n", colorError("✗"), e.ID, err)
		}
	}

	fmt.Printf("%s Stored %d, skipped %d existing, %d failed\n", colorInfo("✓"), stored, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d patterns could not be stored", failed)
	}
	return nil
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored patterns as YAML or JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := patternStore(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			format = "yaml"
			if strings.EqualFold(filepath.Ext(out), ".json") {
				format = "json"
			}
		}

		entries, _, err := repo.List(cmd.Context(), pattern.Filter{IncludeInactive: true, CatalogOrder: true})
		if err != nil {
			return err
		}

		var data []byte
		switch format {
		case "yaml", "yml":
			data, err = catalog.MarshalYAML(entries)
		case "json":
			data, err = json.MarshalIndent(entries, "", "  ")
		default:
			return fmt.Errorf("unsupported format %q (expected yaml or json)", format)
		}
		if err != nil {
			return fmt.Errorf("failed to encode patterns: %w", err)
		}

		if out == "" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(out, data, constants.DefaultFilePerm); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Printf("%s Exported %d patterns to %s\n", colorInfo("✓"), len(entries), out)
		return nil
	},
}

var patternsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Deactivate a pattern, or remove it with --hard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := patternStore(cmd)
		if err != nil {
			return err
		}
		hard, _ := cmd.Flags().GetBool("hard")
		if hard {
			err = repo.Delete(cmd.Context(), args[0])
		} else {
			err = repo.Deactivate(cmd.Context(), args[0])
		}
		if errors.Is(err, sharedErrors.ErrPatternNotFound) {
			return &PatternNotFoundError{ID: args[0]}
		}
		if err != nil {
			return err
		}
		verb := "Deactivated"
		if hard {
			verb = "Deleted"
		}
		fmt.Printf("%s %s %s\n", colorInfo("✓"), verb, args[0])
		return nil
	},
}

func init() {
	patternsListCmd.Flags().String("category", "", "Filter by category")
	patternsListCmd.Flags().String("vendor", "", "Filter by vendor")
	patternsListCmd.Flags().String("search", "", "Match name or vendor")
	patternsListCmd.Flags().Bool("all", false, "Include inactive patterns")
	patternsListCmd.Flags().Int("limit", 0, "Maximum patterns to show (0 = all)")

	patternsImportCmd.Flags().Bool("replace", false, "Overwrite patterns that already exist")

	patternsExportCmd.Flags().String("out", "", "Output file (default stdout)")
	patternsExportCmd.Flags().String("format", "", "yaml or json (default from --out extension, else yaml)")

	patternsDeleteCmd.Flags().Bool("hard", false, "Remove the pattern instead of deactivating it")

	patternsCmd.AddCommand(patternsListCmd, patternsGetCmd, patternsIdentifyCmd,
		patternsImportCmd, patternsExportCmd, patternsSeedCmd, patternsDeleteCmd)
}
