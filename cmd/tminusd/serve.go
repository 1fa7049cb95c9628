package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tminus/tminus/internal/config"
	"github.com/tminus/tminus/internal/logging"
	"github.com/tminus/tminus/internal/mirrorwriter"
	"github.com/tminus/tminus/internal/provider"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/storage/sqlite"
	"github.com/tminus/tminus/internal/telemetry"
	"github.com/tminus/tminus/internal/useractor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host user actors and mirror writers",
	Long: `Boot one actor and one mirror writer pool per user database found
under data-dir, requeue any writes stranded by a previous shutdown, and run
until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

// userRuntime bundles everything one user's database needs while served.
type userRuntime struct {
	userID string
	store  storage.Store
	queue  *queue.Memory
	actor  *useractor.Actor
	writer *mirrorwriter.Writer
}

func runServe(ctx context.Context) error {
	dataDir := config.GetString(config.KeyDataDir)
	userIDs, err := discoverUsers(dataDir)
	if err != nil {
		return fatalErr(err)
	}
	if len(userIDs) == 0 {
		return fatalErr(fmt.Errorf("no user databases under %s (run 'tminusd migrate <user-id>' first)", dataDir))
	}

	var runtimes []*userRuntime
	defer func() {
		for _, rt := range runtimes {
			rt.actor.Close()
			rt.queue.Close()
			if err := rt.store.Close(); err != nil {
				log.Warn().Err(err).Str("user_id", rt.userID).Msg("store close failed")
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	for _, userID := range userIDs {
		rt, err := bootUser(ctx, userID)
		if err != nil {
			return fatalErr(fmt.Errorf("boot user %s: %w", userID, err))
		}
		runtimes = append(runtimes, rt)
		g.Go(func() error { return rt.writer.Run(ctx) })
	}
	log.Info().Int("users", len(runtimes)).Str("data_dir", dataDir).Msg("tminusd serving")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return g.Wait()
}

// bootUser opens the user's store, recovers stranded mirror writes, and
// assembles the actor plus writer pool. The in-memory provider adapter
// stands in until a real adapter is registered for the deployment.
func bootUser(ctx context.Context, userID string) (*userRuntime, error) {
	raw, err := sqlite.New(ctx, config.UserDBPath(userID))
	if err != nil {
		return nil, err
	}
	store := telemetry.WrapStore(raw)

	q := queue.NewMemory(config.GetInt(config.KeyEngineMailboxSize))
	adapter := provider.NewFake()
	userLog := logging.WithUser(log, userID)

	recovered, err := mirrorwriter.Recover(ctx, store, q)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if recovered > 0 {
		userLog.Info().Int("jobs", recovered).Msg("requeued stranded mirror writes")
	}

	actor := useractor.New(store, q, adapter, useractor.Config{
		HighWatermark:  config.GetInt(config.KeyEngineHighWatermark),
		LowWatermark:   config.GetInt(config.KeyEngineLowWatermark),
		RetryAfter:     config.GetDuration(config.KeyEngineRetryAfter),
		SweepInterval:  config.GetDuration(config.KeyEngineSweepInterval),
		MailboxSize:    config.GetInt(config.KeyEngineMailboxSize),
		Salt:           config.GetString(config.KeyEngineSalt),
		ForeignMarkers: config.GetStringSlice(config.KeyEngineForeignMarkers),
	}, userLog)

	wcfg := mirrorwriter.DefaultConfig()
	wcfg.Workers = config.GetInt(config.KeyWriterWorkers)
	wcfg.MaxAttempts = config.GetInt(config.KeyWriterMaxAttempts)
	writer := mirrorwriter.New(store, q, q, adapter, nil, logging.WithComponent(userLog, "mirrorwriter"), wcfg)

	return &userRuntime{userID: userID, store: store, queue: q, actor: actor, writer: writer}, nil
}

// discoverUsers lists user ids by their database files under dataDir.
func discoverUsers(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read data dir %s: %w", dataDir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(filepath.Base(e.Name()), ".db"))
	}
	return ids, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
