// Command tiller runs the governance daemon: the timelock scheduler and
// the delegate election behind one HTTP surface, with sqlite-backed
// state and optional OpenTelemetry metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/tiller/pkg/api"
	"github.com/Mindburn-Labs/tiller/pkg/authority"
	"github.com/Mindburn-Labs/tiller/pkg/config"
	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/election"
	"github.com/Mindburn-Labs/tiller/pkg/ledger"
	"github.com/Mindburn-Labs/tiller/pkg/observability"
	"github.com/Mindburn-Labs/tiller/pkg/store"
	"github.com/Mindburn-Labs/tiller/pkg/timelock"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tiller exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		slog.Warn("governance profile not found, using defaults", "path", cfg.ProfilePath)
		profile = config.DefaultProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "tiller",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ExportInterval: 15 * time.Second,
		Enabled:        cfg.OTLPEnabled,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	events := ledger.New()

	elect := election.New(st.Stake(), profile.MaxSlateSize)
	elect.SetStore(st)
	elect.SetEventLedger(events)
	elect.SetMetrics(obs.Recorder())
	if err := restoreElection(ctx, st, elect); err != nil {
		return err
	}

	boot, err := bootstrapPolicy(profile, elect)
	if err != nil {
		return err
	}
	cell := authority.NewCell(boot)

	scheduler := timelock.New(contracts.Address(profile.SchedulerAddress), profile.Delay(), cell)
	scheduler.SetStore(st)
	scheduler.SetEventLedger(events)
	scheduler.SetMetrics(obs.Recorder())
	live, err := st.LiveActions(ctx)
	if err != nil {
		return err
	}
	scheduler.Restore(live)

	server := api.NewServer(scheduler, elect, events)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(profile.RateLimitRPS),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tiller listening",
			"port", cfg.Port,
			"scheduler", profile.SchedulerAddress,
			"delay", profile.Delay(),
			"authority", boot.Kind(),
			"restored_actions", len(live),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// bootstrapPolicy resolves the authority the scheduler boots behind.
// Without an explicit owner or expression, the electorate alone governs:
// nobody is authorized until a leader has been lifted.
func bootstrapPolicy(profile *config.GovernanceProfile, elect *election.Electorate) (authority.Policy, error) {
	switch {
	case profile.Owner != "":
		return authority.NewFixedOwner(contracts.Address(profile.Owner)), nil
	case profile.PolicyExpr != "":
		return authority.NewCELPolicy(profile.PolicyExpr)
	default:
		return elect.Policy(), nil
	}
}

func restoreElection(ctx context.Context, st *store.Store, elect *election.Electorate) error {
	voters, err := st.Voters(ctx)
	if err != nil {
		return err
	}
	approvals, err := st.Approvals(ctx)
	if err != nil {
		return err
	}
	slates, err := st.Slates(ctx)
	if err != nil {
		return err
	}
	leader, err := st.Leader(ctx)
	if err != nil {
		return err
	}
	elect.Restore(voters, approvals, slates, leader)
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
