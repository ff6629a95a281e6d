package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/connprune/internal/config"
	"github.com/eliteGoblin/connprune/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session state, today's count and settings",
	Long: `Shows the removal state of the running service, or with --local the
persisted daily count and settings read straight from the state directory.

--write-config writes the effective configuration to the config path so it can
be edited.`,
	RunE: runStatus,
}

var (
	statusLocal       bool
	statusWriteConfig bool
)

func init() {
	statusCmd.Flags().BoolVar(&statusLocal, "local", false, "Read persisted state instead of asking the service")
	statusCmd.Flags().BoolVar(&statusWriteConfig, "write-config", false, "Write the effective config file and exit")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if statusWriteConfig {
		return writeEffectiveConfig()
	}
	if statusLocal {
		return localStatus(ctx)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var status domain.Status
	if err := newDaemonClient(cfg.HTTP.Addr).call(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return err
	}
	printStatus(status)
	return nil
}

func localStatus(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	today := a.quota.Today(ctx, domain.DayID(time.Now()))
	settings := a.prefs.Settings(ctx)
	last, err := a.prefs.LastLoaded(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("State directory:  %s\n", a.cfg.StateDir)
	fmt.Printf("Processed today:  %d/%d\n", today, settings.DailyLimit)
	fmt.Printf("Delay:            %s\n", settings.Delay)
	fmt.Printf("Exclusions:       %d\n", len(settings.Exclusions))
	fmt.Printf("Last load:        %d contacts\n", len(last))
	return nil
}

func writeEffectiveConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	if err := config.Write(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
