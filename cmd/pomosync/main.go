package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/ui"
)

var (
	cfgFile string
	verbose bool

	// v and cfg are populated by loadConfig before any command runs.
	v   *viper.Viper
	cfg *config.Config

	out = ui.NewPrinter(os.Stdout)
)

var rootCmd = &cobra.Command{
	Use:   "pomosync",
	Short: "Pomodoro task list that syncs across devices",
	Long: `pomosync keeps a Pomodoro task list, completion history and work-session
log on this machine and reconciles them with a shared row-store whenever it
is reachable.

Every change is saved locally first. Changes are pushed in batches and a
full sync pulls and merges the remote collections periodically, so the
task list works offline and catches up when the network returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "setup", Title: "Setup and data:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default "+config.ConfigFile()+")")
	flags.String("endpoint", "", "row-store URL (overrides config)")
	flags.String("data-dir", "", "directory holding the local database")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")
}

// loadConfig reads the config file, environment and flags into cfg. init
// may name a config file that does not exist yet.
func loadConfig(cmd *cobra.Command) error {
	v = config.New(cfgFile)
	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("endpoint", flags.Lookup("endpoint")); err != nil {
		return err
	}
	if err := v.BindPFlag("data_dir", flags.Lookup("data-dir")); err != nil {
		return err
	}

	creating := cmd.Name() == "init" && cfgFile != ""
	if _, err := os.Stat(cfgFile); !creating || err == nil {
		if err := config.Read(v); err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(v)
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
