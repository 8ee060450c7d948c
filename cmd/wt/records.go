package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	"github.com/srikhai/wastetrack/internal/ui"
)

// buddhistEraOffset converts a Gregorian year to the Thai calendar.
const buddhistEraOffset = 543

// recordInput holds the raw text of a record entry, from flags or the form.
type recordInput struct {
	Month      string
	Year       string
	AmountKg   string
	Population string

	General   string
	Organic   string
	Recycle   string
	Hazardous string

	Note     string
	Recorder string
	Position string
}

func validateIntRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("must be a whole number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func validateKg(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

func parseKg(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// toRecord converts the input into a record. Composition is set only when
// at least one category is given; AmountKg then defaults to its total.
func (in recordInput) toRecord() (*schema.WasteRecord, error) {
	if err := validateIntRange(1, 12)(in.Month); err != nil {
		return nil, fmt.Errorf("month %w", err)
	}
	if err := validateIntRange(1, 9999)(in.Year); err != nil {
		return nil, fmt.Errorf("year %w", err)
	}
	for name, v := range map[string]string{
		"amount": in.AmountKg, "general": in.General, "organic": in.Organic,
		"recycle": in.Recycle, "hazardous": in.Hazardous,
	} {
		if err := validateKg(v); err != nil {
			return nil, fmt.Errorf("%s %w", name, err)
		}
	}
	pop := 0
	if strings.TrimSpace(in.Population) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(in.Population))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("population must be a non-negative whole number")
		}
		pop = n
	}

	month, _ := strconv.Atoi(strings.TrimSpace(in.Month))
	year, _ := strconv.Atoi(strings.TrimSpace(in.Year))
	r := &schema.WasteRecord{
		Month:            month,
		Year:             year,
		AmountKg:         parseKg(in.AmountKg),
		Population:       pop,
		Note:             strings.TrimSpace(in.Note),
		RecorderName:     strings.TrimSpace(in.Recorder),
		RecorderPosition: strings.TrimSpace(in.Position),
	}
	if in.General+in.Organic+in.Recycle+in.Hazardous != "" {
		r.Composition = &schema.Composition{
			General:   parseKg(in.General),
			Organic:   parseKg(in.Organic),
			Recycle:   parseKg(in.Recycle),
			Hazardous: parseKg(in.Hazardous),
		}
	}
	return r, nil
}

func recordForm(in *recordInput) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Month (1-12)").Value(&in.Month).Validate(validateIntRange(1, 12)),
			huh.NewInput().Title("Year (B.E.)").Value(&in.Year).Validate(validateIntRange(1, 9999)),
			huh.NewInput().Title("Population").Value(&in.Population).Validate(validateIntRange(0, 10_000_000)),
		),
		huh.NewGroup(
			huh.NewInput().Title("General waste (kg)").Value(&in.General).Validate(validateKg),
			huh.NewInput().Title("Organic waste (kg)").Value(&in.Organic).Validate(validateKg),
			huh.NewInput().Title("Recyclable waste (kg)").Value(&in.Recycle).Validate(validateKg),
			huh.NewInput().Title("Hazardous waste (kg)").Value(&in.Hazardous).Validate(validateKg),
			huh.NewInput().Title("Total (kg)").Description("Leave empty to use the sum of categories").
				Value(&in.AmountKg).Validate(validateKg),
		).Title("Amounts"),
		huh.NewGroup(
			huh.NewText().Title("Note").Value(&in.Note),
			huh.NewInput().Title("Recorded by").Value(&in.Recorder),
			huh.NewInput().Title("Position").Value(&in.Position),
		),
	)
}

var recordsCmd = &cobra.Command{
	Use:     "records",
	GroupID: "records",
	Short:   "Manage local waste records",
}

var recordsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update the record for a month",
	Long: `Add a monthly waste record.

If a record for the same month and year already exists it is updated in place.
Without --month an interactive form is shown.

Examples:
  wt records add
  wt records add --month 3 --year 2567 --amount 125000 --population 4120`,
	Run: func(cmd *cobra.Command, args []string) {
		in := recordInput{}
		in.Month, _ = cmd.Flags().GetString("month")
		in.Year, _ = cmd.Flags().GetString("year")
		in.AmountKg, _ = cmd.Flags().GetString("amount")
		in.Population, _ = cmd.Flags().GetString("population")
		in.General, _ = cmd.Flags().GetString("general")
		in.Organic, _ = cmd.Flags().GetString("organic")
		in.Recycle, _ = cmd.Flags().GetString("recycle")
		in.Hazardous, _ = cmd.Flags().GetString("hazardous")
		in.Note, _ = cmd.Flags().GetString("note")
		in.Recorder, _ = cmd.Flags().GetString("recorder")
		in.Position, _ = cmd.Flags().GetString("position")

		now := time.Now()
		if in.Month == "" {
			if !ui.IsInteractive() {
				fatalf("--month is required when not running in a terminal")
			}
			if in.Year == "" {
				in.Year = strconv.Itoa(now.Year() + buddhistEraOffset)
			}
			if err := recordForm(&in).Run(); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Fprintln(os.Stderr, "Cancelled.")
					exit(1)
				}
				fatalf("%v", err)
			}
		}
		if in.Year == "" {
			in.Year = strconv.Itoa(now.Year() + buddhistEraOffset)
		}

		rec, err := in.toRecord()
		if err != nil {
			fatalf("%v", err)
		}

		e := mustEnv()
		defer e.Close()
		ctx := rootCtx

		saved, updated, err := e.db.AddRecord(ctx, rec, now)
		if err != nil {
			fatalf("%v", err)
		}

		action := store.ActionAdd
		if updated {
			action = store.ActionUpdate
		}
		entry := store.AuditEntry{
			Action:  action,
			Details: fmt.Sprintf("%s: %.1f kg, population %d", saved.PeriodKey(), saved.AmountKg, saved.Population),
			Actor:   cmp.Or(saved.RecorderName, "cli"),
		}
		if err := e.db.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("failed to write audit entry", "error", err)
		}

		if jsonOutput {
			outputJSON(saved)
			return
		}
		verb := "Added"
		if updated {
			verb = "Updated"
		}
		fmt.Printf("%s %s record for %s (%s)\n", ui.PassIcon(), verb, saved.PeriodKey(), saved.ID)
		fmt.Println("   Run 'wt sync' to push it to the spreadsheet.")
	},
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		records, err := e.db.ListRecords(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		if year, _ := cmd.Flags().GetInt("year"); year > 0 {
			filtered := records[:0]
			for _, r := range records {
				if r.Year == year {
					filtered = append(filtered, r)
				}
			}
			records = filtered
		}
		if jsonOutput {
			outputJSON(records)
			return
		}
		ui.RenderRecords(os.Stdout, records)
	},
}

var recordsLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Import records from a JSON, JSONL, YAML or TOML file",
	Long: `Import records from a backup or import file.

Records are upserted by ID. With --replace the local records are replaced by
the file's contents.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]
		replace, _ := cmd.Flags().GetBool("replace")

		records, err := schema.ReadRecordsFile(path, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		e := mustEnv()
		defer e.Close()
		ctx := rootCtx

		if replace {
			err = e.db.ReplaceRecords(ctx, schema.Values(records))
		} else {
			for _, r := range records {
				if err = e.db.UpsertRecord(ctx, r); err != nil {
					break
				}
			}
		}
		if err != nil {
			fatalf("%v", err)
		}

		entry := store.AuditEntry{
			Action:  store.ActionImport,
			Details: fmt.Sprintf("imported %d records from %s", len(records), path),
			Actor:   "cli",
		}
		if err := e.db.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
			e.logger.Warn("failed to write audit entry", "error", err)
		}

		fmt.Printf("%s Imported %d records from %s\n", ui.PassIcon(), len(records), path)
	},
}

var recordsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write local records to a JSON backup file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		records, err := e.db.ListRecords(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		if err := schema.WriteRecordsFile(args[0], records); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Exported %d records to %s\n", ui.PassIcon(), len(records), args[0])
	},
}

func init() {
	f := recordsAddCmd.Flags()
	f.String("month", "", "Month (1-12)")
	f.String("year", "", "Year in the Buddhist Era (default: current year)")
	f.String("amount", "", "Total waste in kg (default: sum of categories)")
	f.String("population", "", "Registered population")
	f.String("general", "", "General waste in kg")
	f.String("organic", "", "Organic waste in kg")
	f.String("recycle", "", "Recyclable waste in kg")
	f.String("hazardous", "", "Hazardous waste in kg")
	f.String("note", "", "Free-text note")
	f.String("recorder", "", "Name of the person recording")
	f.String("position", "", "Recorder's position")

	recordsListCmd.Flags().Int("year", 0, "Only show records for this year (B.E.)")
	recordsLoadCmd.Flags().Bool("replace", false, "Replace all local records with the file contents")

	recordsCmd.AddCommand(recordsAddCmd, recordsListCmd, recordsLoadCmd, recordsExportCmd)
	rootCmd.AddCommand(recordsCmd)
}
