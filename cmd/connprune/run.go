package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/connprune/internal/daemon"
	"github.com/eliteGoblin/connprune/internal/domain"
)

var runCmd = &cobra.Command{
	Use:   "run <remove|unfollow>",
	Short: "Run one removal or unfollow session",
	Long: `Scans the connection list in the browser tab and processes it one
contact at a time until the list, the daily limit or Ctrl-C ends the session.

With --remote the session is started on a running "connprune serve" instead
and the command returns once it is accepted.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"remove", "unfollow"},
	RunE:      runRun,
}

var (
	runDelay   time.Duration
	runLimit   int
	runExclude []string
	runRemote  bool
)

func init() {
	runCmd.Flags().DurationVar(&runDelay, "delay", 0, "Delay between removals (default: stored setting)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "Daily limit (default: stored setting)")
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "Contact ids to skip, merged with stored exclusions")
	runCmd.Flags().BoolVar(&runRemote, "remote", false, "Start the session on the running service")
}

func actionFromArg(arg string) (domain.ActionKind, error) {
	switch arg {
	case "remove", "unfriend":
		return domain.ActionRemoveConnection, nil
	case "unfollow":
		return domain.ActionUnfollow, nil
	default:
		return "", fmt.Errorf("unknown action %q (want remove or unfollow)", arg)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	kind, err := actionFromArg(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runRemote {
		return runRemoteStart(ctx, kind)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.attachBrowser(ctx); err != nil {
		return err
	}

	settings := a.prefs.Settings(ctx)
	if cmd.Flags().Changed("delay") {
		settings.Delay = runDelay
	}
	if cmd.Flags().Changed("limit") {
		settings.DailyLimit = runLimit
	}
	settings.Exclusions = settings.Exclusions.Merge(domain.NewExclusionSet(runExclude...))
	settings = settings.Normalize()

	a.controller.Prime(ctx)
	ack, err := a.controller.Start(ctx, kind, settings)
	if err != nil {
		return err
	}
	fmt.Printf("Started %s: %d contacts queued, %d/%d done today, %s between actions\n",
		kind, ack.QueueSize, ack.ProcessedToday, ack.DailyLimit, settings.Delay)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.controller.Done():
			printStatus(a.controller.Status())
			return nil
		case <-ctx.Done():
			result := a.controller.Stop()
			fmt.Printf("Stopped: %d processed, %d remaining\n", result.ProcessedThisSession, result.RemainingCount)
			return nil
		case <-ticker.C:
			s := a.controller.Status()
			fmt.Printf("  %d processed, %d remaining\n", s.ProcessedThisSession, s.RemainingCount)
		}
	}
}

func runRemoteStart(ctx context.Context, kind domain.ActionKind) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := daemon.StartRequest{Exclusions: runExclude}
	if runDelay > 0 {
		ms := int(runDelay / time.Millisecond)
		req.DelayMillis = &ms
	}
	if runLimit != 0 {
		req.DailyLimit = &runLimit
	}

	path := "/removal/start"
	if kind == domain.ActionUnfollow {
		path = "/unfollow/start"
	}

	var resp daemon.StartResponse
	if err := newDaemonClient(cfg.HTTP.Addr).call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return err
	}
	fmt.Printf("Started %s on service: %d contacts queued, %d/%d done today\n",
		kind, resp.QueueSize, resp.ProcessedToday, resp.DailyLimit)
	return nil
}

func printStatus(s domain.Status) {
	if jsonOutput {
		data, _ := json.MarshalIndent(s, "", "  ")
		fmt.Println(string(data))
		return
	}

	state := string(s.State)
	if s.Action != "" && s.Running {
		state += " (" + string(s.Action) + ")"
	}
	fmt.Printf("State:            %s\n", state)
	fmt.Printf("Processed today:  %d\n", s.ProcessedToday)
	fmt.Printf("This session:     %d\n", s.ProcessedThisSession)
	fmt.Printf("Remaining:        %d\n", s.RemainingCount)
	if s.LastStopReason != "" {
		fmt.Printf("Last stop reason: %s\n", s.LastStopReason)
	}
}
