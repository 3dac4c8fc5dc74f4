package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pomosync/pomosync/internal/export"
	"github.com/pomosync/pomosync/internal/migrate"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/tombstone"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "setup",
	Short:   "Export local state as JSON, YAML or TOML",
	Long: `Write every task, completion, work session, archived task and tombstone
in the local database. The format defaults to the --output file extension,
or JSON on stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		format := export.FormatJSON
		switch {
		case formatName != "":
			f, err := export.ParseFormat(formatName)
			if err != nil {
				return err
			}
			format = f
		case output != "":
			format = export.FormatFromPath(output)
		}

		ctx := context.Background()
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		logs, err := openSink(cfg, false)
		if err != nil {
			return err
		}
		defer logs.Close()

		tracker := tombstone.New(store, tombstone.Options{
			Retention: cfg.Tombstone.Retention,
			Logger:    logs.Logger("tombstone"),
		})
		if err := tracker.Load(); err != nil {
			return err
		}
		snap, err := store.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		deviceID, err := store.DeviceID(func() string { return schema.NewDeviceID(time.Now()) })
		if err != nil {
			return err
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			w = f
		}

		doc := export.New(snap, tracker, deviceID, time.Now())
		if err := export.Write(w, doc, format); err != nil {
			return err
		}
		if output != "" {
			fmt.Fprintf(os.Stderr, "%s Exported %d tasks, %d completed, %d sessions, %d archived to %s\n",
				out.Pass("✓"), len(doc.Tasks), len(doc.Completed), len(doc.Sessions), len(doc.Archived), output)
		}
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "setup",
	Short:   "Import a browser localStorage dump",
	Long: `Import tasks, history, tombstones and pending operations from a JSON dump
of the browser timer's localStorage. A record already present locally is
replaced only when the imported copy is newer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		exp, err := migrate.ReadExport(args[0])
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		logs, err := openSink(cfg, false)
		if err != nil {
			return err
		}
		defer logs.Close()

		opts := migrate.Options{DryRun: dryRun, Logger: logs.Logger("migrate")}
		if exp.DeviceID == "" {
			if opts.DeviceID, err = store.DeviceID(func() string { return schema.NewDeviceID(time.Now()) }); err != nil {
				return err
			}
		}

		res, err := migrate.Import(context.Background(), exp, store, opts)
		if err != nil {
			return err
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d tasks, %d completed, %d sessions, %d archived, %d tombstones, %d queued operations\n",
			out.Pass("✓"), verb, res.Tasks, res.Completed, res.Sessions, res.Archived, res.Tombstones, res.QueuedOps)
		if res.Skipped > 0 {
			fmt.Printf("%s Skipped %d invalid records\n", out.Warn("⚠"), res.Skipped)
		}
		for _, e := range res.Errors {
			fmt.Printf("  %s\n", out.Muted(e))
		}
		if res.Endpoint != "" && cfg.Endpoint == "" {
			fmt.Printf("\nThe dump used endpoint %s\nRun 'pomosync init --endpoint %s' to sync with it.\n", res.Endpoint, res.Endpoint)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "json, yaml or toml")
	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	importCmd.Flags().Bool("dry-run", false, "report what would be imported without writing")

	rootCmd.AddCommand(exportCmd, importCmd)
}
