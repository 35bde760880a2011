package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agentboard/internal/cache"
	"agentboard/internal/capture"
	"agentboard/internal/clock"
	"agentboard/internal/config"
	"agentboard/internal/delta"
	"agentboard/internal/history"
	"agentboard/internal/leaderboard"
	"agentboard/internal/ranking"
	"agentboard/internal/solana"
	"agentboard/internal/storage"
	chstore "agentboard/internal/storage/clickhouse"
	"agentboard/internal/storage/memory"
	"agentboard/internal/storage/migrations"
	pgstore "agentboard/internal/storage/postgres"
	"agentboard/internal/storage/sqlite"
)

// stores holds the capture store and the optional history mirror.
type stores struct {
	captures storage.CaptureStore
	samples  storage.HistoryPointStore // nil without clickhouse
}

// openStores connects the configured backends and applies their migrations.
func openStores(ctx context.Context, sc config.StoreConfig) (*stores, func(), error) {
	var (
		st       stores
		cleanups []func()
	)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	switch sc.Kind {
	case config.StoreMemory:
		st.captures = memory.NewCaptureStore()

	case config.StorePostgres:
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		st.captures = pgstore.NewCaptureStore(pool)

	case config.StoreSqlite:
		db, err := sqlite.Open(sc.SqlitePath)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { db.Close() })
		if err := migrations.RunSqliteMigrations(ctx, db); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("sqlite migrations: %w", err)
		}
		st.captures = sqlite.NewCaptureStore(db)

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}

	if sc.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, sc.ClickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		cleanups = append(cleanups, func() { conn.Close() })
		st.samples = chstore.NewHistoryPointStore(conn)
	} else if sc.Kind == config.StoreMemory {
		st.samples = memory.NewHistoryPointStore()
	}

	return &st, cleanup, nil
}

// app is the wired engine.
type app struct {
	live      *cache.Live
	board     *leaderboard.Coordinator
	history   *history.Service
	scheduler *capture.Scheduler
	stores    *stores
}

func newApp(c *config.Config, st *stores, logger *zap.Logger) (*app, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	at, err := clock.ParseTimeOfDay(c.Capture.At)
	if err != nil {
		return nil, err
	}
	policy, err := capture.ParsePolicy(c.Capture.Policy)
	if err != nil {
		return nil, err
	}
	baseline, err := c.BaselineTime()
	if err != nil {
		return nil, err
	}
	if c.Ranking.LeaderboardURL == "" {
		return nil, fmt.Errorf("ranking.leaderboard_url is required")
	}

	source := ranking.NewHTTPClient(c.Ranking.LeaderboardURL,
		ranking.WithTimeout(c.Ranking.Timeout.Std()),
		ranking.WithMaxRetries(c.Ranking.MaxRetries),
		ranking.WithDetailBaseURL(c.Ranking.DetailURL),
	)

	live := cache.NewLive(cache.LiveOptions{
		Fetch:           source.FetchLeaderboard,
		TTL:             c.Live.TTL.Std(),
		MinInterval:     c.Live.MinInterval.Std(),
		Timeout:         c.Live.FetchTimeout.Std(),
		RefreshInterval: c.Live.RefreshInterval.Std(),
		Logger:          logger,
	})

	var details *cache.Detail
	if c.Ranking.DetailURL != "" {
		details = cache.NewDetail(cache.DetailOptions{
			Fetch:   source.FetchAgent,
			TTL:     c.Detail.TTL.Std(),
			Max:     c.Detail.Max,
			Timeout: c.Detail.Timeout.Std(),
			Logger:  logger,
		})
	}

	var wallets solana.BalanceClient
	if c.Solana.RPCEndpoint != "" {
		wallets = solana.NewHTTPClient(c.Solana.RPCEndpoint, solana.WithTimeout(c.Solana.Timeout.Std()))
	}

	annotator := delta.New(delta.Options{Store: st.captures, Location: loc, Logger: logger})

	boardOpts := leaderboard.Options{
		Live:      live,
		Store:     st.captures,
		Annotator: annotator,
		Logger:    logger,
	}
	schedOpts := capture.Options{
		Store:          st.captures,
		History:        st.samples,
		Live:           live,
		Wallets:        wallets,
		Location:       loc,
		At:             at,
		SafetyInterval: c.Capture.SafetyInterval.Std(),
		Policy:         policy,
		EnrichDelay:    c.Capture.EnrichDelay.Std(),
		Logger:         logger,
	}
	// A nil *cache.Detail must not become a non-nil interface.
	if details != nil {
		boardOpts.Details = details
		schedOpts.Details = details
	}

	return &app{
		live:  live,
		board: leaderboard.New(boardOpts),
		history: history.NewService(history.Options{
			Store:    st.captures,
			Samples:  st.samples,
			Live:     live,
			Location: loc,
			Baseline: baseline,
			Logger:   logger,
		}),
		scheduler: capture.New(schedOpts),
		stores:    st,
	}, nil
}
