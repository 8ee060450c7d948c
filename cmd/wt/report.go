package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/report"
	"github.com/srikhai/wastetrack/internal/schema"
)

const reportTimeout = 2 * time.Minute

// reportSetup loads local records and builds the generator.
func reportSetup() ([]schema.WasteRecord, report.Generator) {
	e := mustEnv()
	defer e.Close()

	records, err := e.db.ListRecords(rootCtx)
	if err != nil {
		fatalf("%v", err)
	}
	gen, err := report.NewAnthropic(report.Options{
		APIKey: e.cfg.Report.APIKey,
		Model:  e.cfg.Report.Model,
		Logger: e.logger,
	})
	if err != nil {
		fatalf("%v", err)
	}
	return schema.Values(records), gen
}

func printReport(text string, err error) {
	switch {
	case errors.Is(err, report.ErrNotEnoughData):
		fmt.Println("Not enough records for this report yet.")
		return
	case err != nil:
		fatalf("%v", err)
	}
	if jsonOutput {
		outputJSON(map[string]string{"report": text})
		return
	}
	fmt.Println(text)
}

func reportContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(rootCtx, reportTimeout)
}

var reportCmd = &cobra.Command{
	Use:     "report",
	GroupID: "reports",
	Short:   "Generate AI-written reports from local records",
	Long: `Generate narrative reports with the Anthropic API.

The API key is read from report.api-key, WT_REPORT_API_KEY or ANTHROPIC_API_KEY.`,
}

var reportMayorCmd = &cobra.Command{
	Use:   "mayor",
	Short: "Executive report covering every record",
	Run: func(cmd *cobra.Command, args []string) {
		records, gen := reportSetup()
		if year, _ := cmd.Flags().GetInt("year"); year > 0 {
			records = report.ForYear(records, year)
		}
		ctx, cancel := reportContext()
		defer cancel()
		fmt.Fprintln(os.Stderr, "Generating report...")
		printReport(gen.MayorReport(ctx, records))
	},
}

var reportInsightCmd = &cobra.Command{
	Use:   "insight",
	Short: "Short comment on the latest month",
	Run: func(cmd *cobra.Command, args []string) {
		records, gen := reportSetup()
		ctx, cancel := reportContext()
		defer cancel()
		printReport(gen.Insight(ctx, records))
	},
}

var reportCompareCmd = &cobra.Command{
	Use:   "compare <year1> <year2>",
	Short: "Compare two years (B.E.)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var year1, year2 int
		if _, err := fmt.Sscan(args[0], &year1); err != nil {
			fatalf("invalid year %q", args[0])
		}
		if _, err := fmt.Sscan(args[1], &year2); err != nil {
			fatalf("invalid year %q", args[1])
		}

		records, gen := reportSetup()
		ctx, cancel := reportContext()
		defer cancel()
		printReport(gen.Comparison(ctx,
			year1, report.ForYear(records, year1),
			year2, report.ForYear(records, year2)))
	},
}

func init() {
	reportMayorCmd.Flags().Int("year", 0, "Only include this year (B.E.)")

	reportCmd.AddCommand(reportMayorCmd, reportInsightCmd, reportCompareCmd)
	rootCmd.AddCommand(reportCmd)
}
