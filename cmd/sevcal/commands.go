package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"sevcal/internal/calendar"
	"sevcal/internal/codec"
	appLog "sevcal/internal/log"
	"sevcal/internal/termview"
)

var (
	exportOut       string
	exportClipboard bool
	exportICS       bool
	importMode      string
	showMonth       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the calendar as JSON (or ICS) to stdout, a file or the clipboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var data []byte
		if exportICS {
			data, err = codec.ExportICS(a.cal.State(), time.Now())
		} else {
			data, err = a.cal.ExportState()
		}
		if err != nil {
			return err
		}

		switch {
		case exportClipboard:
			if err := clipboard.WriteAll(string(data)); err != nil {
				return fmt.Errorf("copy to clipboard: %w", err)
			}
			appLog.Info("export copied to clipboard", "bytes", len(data))
		case exportOut != "":
			if err := os.WriteFile(exportOut, data, 0o600); err != nil {
				return err
			}
			appLog.Info("export written", "path", exportOut, "bytes", len(data))
		default:
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge or replace the calendar with a JSON document (- reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := calendar.ParseImportMode(importMode, calendar.ModeMerge)
		if err != nil {
			return err
		}
		var raw []byte
		if args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.cal.ImportPayload(cmd.Context(), raw, mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d events and %d blackout groups (%s, %s)\n",
			res.Events, res.Blackouts, res.Shape, res.Mode)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all events and blackouts, keeping settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.cal.ResetCalendar(cmd.Context())
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a month grid",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now().In(location(a.conf))
		month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if showMonth != "" {
			month, err = time.Parse("2006-01", showMonth)
			if err != nil {
				return errors.New("--month must look like YYYY-MM")
			}
		}

		st := a.cal.State()
		out := cmd.OutOrStdout()
		v := termview.New(out, termview.ParseWeekStart(a.conf.WeekStart), now, st.Settings)
		_, err = fmt.Fprint(out, v.Month(month.Year(), month.Month(), a.cal.Index(), st.Settings))
		return err
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportClipboard, "clipboard", false, "Copy to the system clipboard")
	exportCmd.Flags().BoolVar(&exportICS, "ics", false, "Export as iCalendar instead of JSON")
	importCmd.Flags().StringVar(&importMode, "mode", string(calendar.ModeMerge), "merge or replace")
	showCmd.Flags().StringVar(&showMonth, "month", "", "Month to show (YYYY-MM), default current")

	rootCmd.AddCommand(exportCmd, importCmd, resetCmd, showCmd)
}
