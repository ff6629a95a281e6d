package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/connprune/internal/daemon"
	"github.com/eliteGoblin/connprune/internal/domain"
	"github.com/eliteGoblin/connprune/internal/transport"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the complete connection list",
	Long: `Scrolls the friend list page until no new contacts appear, the daily
limit is reached or Ctrl-C aborts, then stores the result. Nothing is removed.

With --remote the load runs on a running "connprune serve" and its progress is
followed over the event stream.`,
	RunE: runLoad,
}

var (
	loadRemote   bool
	loadAbort    bool
	loadShowLast bool
	loadOutput   string
)

func init() {
	loadCmd.Flags().BoolVar(&loadRemote, "remote", false, "Run the load on the running service")
	loadCmd.Flags().BoolVar(&loadAbort, "abort", false, "Abort the load running on the service")
	loadCmd.Flags().BoolVar(&loadShowLast, "show-last", false, "Print the last loaded contacts without loading")
	loadCmd.Flags().StringVarP(&loadOutput, "output", "o", "", "Write the loaded contacts to this file as JSON")
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case loadShowLast:
		return showLastLoaded(ctx)
	case loadAbort:
		return abortRemoteLoad(ctx)
	case loadRemote:
		return runRemoteLoad(ctx)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.attachBrowser(ctx); err != nil {
		return err
	}
	a.loader.Subscribe(domain.ProgressFunc(func(p domain.Progress) {
		fmt.Printf("[%3d%%] %s\n", p.Percent, p.Message)
	}))

	// Ctrl-C aborts the loop, which still reports and stores what it found.
	go func() {
		<-ctx.Done()
		if a.loader.Loading() {
			a.loader.Abort()
		}
	}()

	contacts, err := a.loader.LoadAll(context.Background())
	if err != nil {
		return err
	}
	return writeContacts(contacts)
}

func runRemoteLoad(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newDaemonClient(cfg.HTTP.Addr)

	var status daemon.LoadStatus
	if err := client.call(ctx, http.MethodGet, "/load/status", nil, &status); err != nil {
		return err
	}

	conn, err := client.subscribe(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	skip := 0
	if !status.Loading {
		if status.LastProgress != nil && status.LastProgress.Done {
			skip = 1
		}
		if err := client.call(ctx, http.MethodPost, "/load", nil, nil); err != nil {
			return err
		}
	}

	contacts, err := follow(ctx, conn, skip, func(e transport.Event) {
		fmt.Printf("[%3d%%] %s\n", e.Progress, e.Message)
	})
	if err != nil {
		return err
	}
	return writeContacts(contacts)
}

func abortRemoteLoad(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var ack domain.AbortAck
	if err := newDaemonClient(cfg.HTTP.Addr).call(ctx, http.MethodPost, "/load/abort", nil, &ack); err != nil {
		return err
	}
	if ack.WasLoading {
		fmt.Printf("Abort requested, %d contacts loaded so far\n", ack.ContactsLoaded)
	} else {
		fmt.Printf("No load running, last load found %d contacts\n", ack.ContactsLoaded)
	}
	return nil
}

func showLastLoaded(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	contacts, err := a.prefs.LastLoaded(ctx)
	if err != nil {
		return err
	}
	return writeContacts(contacts)
}

// writeContacts prints a summary, or the JSON list when --output is set.
func writeContacts(contacts []domain.Contact) error {
	if loadOutput == "" {
		fmt.Printf("%d contacts\n", len(contacts))
		for _, c := range contacts {
			fmt.Printf("  %-40s %s\n", c.ID, c.DisplayName)
		}
		return nil
	}

	if contacts == nil {
		contacts = []domain.Contact{}
	}
	data, err := json.MarshalIndent(contacts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(loadOutput, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", loadOutput, err)
	}
	fmt.Printf("Wrote %d contacts to %s\n", len(contacts), loadOutput)
	return nil
}
