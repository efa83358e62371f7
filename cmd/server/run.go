package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dronecraft.ai/internal/persistence/archive"
	"dronecraft.ai/internal/persistence/indexdb"
	persistlog "dronecraft.ai/internal/persistence/log"
	"dronecraft.ai/internal/persistence/snapshot"
	"dronecraft.ai/internal/sim/catalogs"
	"dronecraft.ai/internal/sim/scheduler"
	"dronecraft.ai/internal/sim/tuning"
	"dronecraft.ai/internal/transport/jobsync"
	"dronecraft.ai/internal/transport/ws"
)

func runServer(ctx context.Context, opts serverOptions, logger *zap.Logger) error {
	logger = logger.With(zap.String("world", opts.WorldID))

	cats := catalogs.Default()
	if opts.ConfigDir != "" {
		var err error
		if cats, err = catalogs.Load(opts.ConfigDir); err != nil {
			return fmt.Errorf("load catalogs: %w", err)
		}
	}

	tp := strings.TrimSpace(opts.TuningPath)
	if tp == "" && opts.ConfigDir != "" {
		tp = filepath.Join(opts.ConfigDir, "tuning.yaml")
	}
	tune := tuning.Defaults()
	if tp != "" {
		t, err := tuning.Load(tp)
		switch {
		case err == nil:
			tune = t
		case os.IsNotExist(err):
			logger.Info("tuning file not found, using defaults", zap.String("path", tp))
			tp = ""
		default:
			return fmt.Errorf("load tuning: %w", err)
		}
	}

	worldDir := filepath.Join(opts.DataDir, "worlds", opts.WorldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return err
	}

	var idx *indexdb.SQLiteIndex
	if !opts.DisableDB {
		var err error
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "world.sqlite"))
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(ctx, cats, tune); err != nil {
			logger.Warn("index: upsert catalogs", zap.Error(err))
		}
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	auditLog := persistlog.NewAuditLogger(worldDir)
	defer tickLog.Close()
	defer auditLog.Close()

	snapCh := make(chan snapshot.SnapshotV1, 2)
	schedOpts := []scheduler.Option{
		scheduler.WithTickLogger(fanoutTickLogger{tickLog, idxOrNil(idx)}),
		scheduler.WithAuditLogger(fanoutAuditLogger{auditLog, idxOrNil(idx)}),
		scheduler.WithSnapshotSink(snapCh),
	}

	var pub *jobsync.Publisher
	if opts.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr, DB: opts.RedisDB})
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", opts.RedisAddr, err)
		}
		if pub, err = jobsync.NewPublisher(rdb, opts.WorldID, logger); err != nil {
			return err
		}
		schedOpts = append(schedOpts, scheduler.WithJobPublisher(pub))
	}

	sched, err := scheduler.New(scheduler.Config{WorldID: opts.WorldID, Tuning: tune}, cats, logger, schedOpts...)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	snapPath := strings.TrimSpace(opts.Snapshot)
	if snapPath == "" && opts.LoadLatest {
		snapPath = latestSnapshot(worldDir)
	}
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != opts.WorldID {
			return fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", opts.WorldID, snap.Header.WorldID)
		}
		if err := sched.ImportSnapshot(snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		logger.Info("resumed", zap.String("snapshot", filepath.Base(snapPath)), zap.Uint64("tick", sched.CurrentTick()))
	}

	wsSrv, err := ws.NewServer(sched, logger)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	wsSrv.Register(mux)
	mux.HandleFunc("/v1/index", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, idx.Stats())
	})
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		writeSnapshots(gctx, worldDir, opts.KeepSnapshots, snapCh, idx, logger)
		return nil
	})
	if pub != nil {
		g.Go(func() error {
			_ = pub.Run(gctx)
			return nil
		})
	}
	if tp != "" {
		g.Go(func() error {
			err := tuning.Watch(gctx, tp, logger, func(t tuning.Tuning) {
				if err := sched.SetTuning(t); err != nil {
					logger.Warn("tuning rejected", zap.Error(err))
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("tuning watch stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	err = g.Wait()

	// Final snapshot so a restart resumes where this run stopped.
	if now := sched.CurrentTick(); now > 0 {
		final := sched.ExportSnapshot(now - 1)
		path := snapshot.Path(filepath.Join(worldDir, "snapshots"), final.Header.Tick)
		if werr := snapshot.WriteSnapshot(path, final); werr != nil {
			logger.Error("final snapshot", zap.Error(werr))
		} else {
			logger.Info("final snapshot written", zap.String("path", path))
		}
	}
	return err
}

// writeSnapshots persists snapshots handed over by the tick loop.
func writeSnapshots(ctx context.Context, worldDir string, keep int, ch <-chan snapshot.SnapshotV1, idx *indexdb.SQLiteIndex, logger *zap.Logger) {
	dir := filepath.Join(worldDir, "snapshots")
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := snapshot.Path(dir, snap.Header.Tick)
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.Error("snapshot write", zap.Uint64("tick", snap.Header.Tick), zap.Error(err))
				continue
			}
			idx.RecordSnapshot(path, snap)
			logger.Debug("snapshot written", zap.String("path", path))
			if moved, err := archive.Retain(worldDir, keep); err != nil {
				logger.Warn("snapshot archive", zap.Error(err))
			} else if len(moved) > 0 {
				logger.Info("snapshots archived", zap.Int("count", len(moved)))
			}
		}
	}
}

func latestSnapshot(worldDir string) string {
	snaps, err := archive.List(filepath.Join(worldDir, "snapshots"))
	if err != nil || len(snaps) == 0 {
		return ""
	}
	return snaps[len(snaps)-1].Path
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
