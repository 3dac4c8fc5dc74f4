package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pomosync/pomosync/internal/config"
)

// defaultDashboardPort is offered when the dashboard is enabled in init.
const defaultDashboardPort = 8765

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Write a config file",
	Long: `Ask for the row-store endpoint and local settings, then write the config
file. Without a terminal, or with --yes, the current settings (including
--endpoint and --data-dir) are written as they are.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		force, _ := cmd.Flags().GetBool("force")

		path := cfgFile
		if path == "" {
			path = config.ConfigFile()
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		c := *cfg
		if !yes && term.IsTerminal(int(os.Stdin.Fd())) {
			if err := runInitForm(&c); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Aborted")
					return nil
				}
				return err
			}
		}

		if err := c.Save(path); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", out.Pass("✓"), path)
		if c.Endpoint == "" {
			fmt.Printf("%s No endpoint set: changes stay on this device until one is added\n", out.Warn("⚠"))
		}
		return nil
	},
}

func runInitForm(c *config.Config) error {
	dashboard := c.Dashboard.Port > 0
	interval := c.Sync.Interval

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Row-store endpoint").
				Description("URL of the shared row-store; leave empty to stay offline").
				Placeholder("https://example.com/pomodoro").
				Value(&c.Endpoint).
				Validate(validateEndpoint),
			huh.NewInput().
				Title("Data directory").
				Value(&c.DataDir).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("data directory is required")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[time.Duration]().
				Title("Background sync interval").
				Options(
					huh.NewOption("30 seconds", 30*time.Second),
					huh.NewOption("1 minute", time.Minute),
					huh.NewOption("5 minutes", 5*time.Minute),
					huh.NewOption("15 minutes", 15*time.Minute),
				).
				Value(&interval),
			huh.NewConfirm().
				Title("Serve the live dashboard from the daemon?").
				Value(&dashboard),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Sync.Interval = interval
	switch {
	case !dashboard:
		c.Dashboard.Port = 0
	case c.Dashboard.Port == 0:
		c.Dashboard.Port = defaultDashboardPort
	}
	return nil
}

// validateEndpoint applies the config validator's endpoint rule.
func validateEndpoint(s string) error {
	c := config.Default()
	c.Endpoint = strings.TrimSpace(s)
	for _, e := range c.Validate() {
		if e.Field == "endpoint" {
			return errors.New(e.Message)
		}
	}
	return nil
}

func init() {
	initCmd.Flags().BoolP("yes", "y", false, "write current settings without prompting")
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")

	rootCmd.AddCommand(initCmd)
}
