package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	scanapp "github.com/khanhnv2901/vela/internal/application/scan"
	"github.com/khanhnv2901/vela/internal/domain/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Scan a page once and print its third-party script report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)

		pageURL, err := scanapp.ValidateURL(args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			format = formatJSON
		}
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			appCtx.Config.CaptureTimeout = timeout
		}
		if driver, _ := cmd.Flags().GetString("browser"); driver != "" {
			appCtx.Config.BrowserDriver = driver
		}

		services, err := appCtx.Services()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		record, err := services.Orchestrator.CreateScan(ctx, pageURL)
		if err != nil {
			return err
		}
		if format == formatText {
			fmt.Printf("%s Scanning %s (%s)...\n", colorInfo("→"), pageURL, appCtx.Config.BrowserDriver)
		}

		started := time.Now()
		var progress *progressPrinter
		if format == formatText {
			feed, unsubscribe := services.Events.Subscribe()
			defer unsubscribe()
			progress = newProgressPrinter(os.Stdout, record.ID())
			progress.Follow(feed)
		}
		done, err := services.Orchestrator.Execute(ctx, record.ID())
		if progress != nil {
			progress.Stop()
		}
		if done == nil {
			return err
		}
		if err != nil {
			// the scan finished; only persisting it failed
			fmt.Fprintf(os.Stderr, "%s %v\n", colorWarn("warning:"), err)
		}

		if err := renderReport(os.Stdout, done.Snapshot(), format); err != nil {
			return err
		}
		if format == formatText {
			fmt.Printf("\n%s Finished in %s\n", colorInfo("✓"), time.Since(started).Round(time.Millisecond))
		}

		if done.Status() == scan.StatusFailed {
			msg := ""
			if m := done.ErrorMessage(); m != nil {
				msg = *m
			}
			return &ScanFailedError{ID: done.ID(), Message: msg}
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().String("format", formatText, "Output format: text, json or markdown")
	scanCmd.Flags().Bool("json", false, "Shorthand for --format json")
	scanCmd.Flags().Duration("timeout", 0, "Page capture timeout (default from scan.capture_timeout)")
	scanCmd.Flags().String("browser", "", "Capture driver: chrome or static (default from browser.driver)")
}
