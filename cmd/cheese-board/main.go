package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/bridge"
	appcfg "github.com/park285/cheese-board/internal/config"
	"github.com/park285/cheese-board/internal/gamelog"
	"github.com/park285/cheese-board/internal/lichess"
	"github.com/park285/cheese-board/internal/monitor"
	"github.com/park285/cheese-board/internal/mqttpub"
	"github.com/park285/cheese-board/internal/obslog"
	"github.com/park285/cheese-board/internal/reconstruct"
	"github.com/park285/cheese-board/internal/serial"
	"github.com/park285/cheese-board/internal/signature"
	"github.com/park285/cheese-board/internal/tracker"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("log init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device, err := serial.CalibrationDevice(cfg.SerialPort)
	if err != nil || device == "" {
		logger.Info("calibration_device_unknown", zap.Error(err))
	}
	store, closeStore, err := signature.Open(ctx, cfg.CalibrationStore, cfg.CalibrationDir, cfg.RedisURL, device)
	if err != nil {
		log.Fatalf("calibration store error: %v", err)
	}
	defer closeStore()

	db, err := store.Load(ctx)
	if err != nil {
		logger.Warn("calibration_load_error", zap.Error(err))
		db = signature.New()
	}
	logger.Info("calibration_loaded", zap.String("device", device), zap.Int("signatures", db.Len()), zap.Any("counts", db.Counts()))

	var tr *tracker.Tracker
	transport := serial.New(serial.Config{
		Device: cfg.SerialPort,
		Baud:   cfg.SerialBaud,
		Logger: logger.Named("serial"),
	}, func(f board.Frame) { tr.HandleFrame(f) })
	tr = tracker.New(tracker.Options{
		Store:         store,
		Database:      db,
		Reconstructor: reconstruct.Reconstructor{Rotate: cfg.Rotate180, EmptyVotes: cfg.EmptyVotes},
		LED:           transport,
		Logger:        logger.Named("tracker"),
	})
	transport.OnStateChange(func(s serial.State) {
		tr.SetLink(s.String())
	})

	warnStartup(cfg, db, logger)
	if cfg.Calibrate {
		tr.StartCalibration(cfg.CalibrateNewSetup)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component_stopped", zap.String("component", name), zap.Error(err))
			}
		}()
	}
	run("tracker", tr.Run)
	run("serial", transport.Run)

	if cfg.MonitorAddr != "" {
		mon := monitor.New(tr, logger.Named("monitor"))
		tr.AddSink(mon)
		run("monitor", func(ctx context.Context) error { return mon.Serve(ctx, cfg.MonitorAddr) })
	}

	var notifier bridge.MoveNotifier
	if cfg.MQTTBroker != "" {
		pub, err := mqttpub.Connect(cfg.MQTTBroker, "cheese-board-"+uuid.NewString()[:8], cfg.MQTTTopicPrefix, logger.Named("mqtt"))
		if err != nil {
			logger.Error("mqtt_connect_error", zap.Error(err))
		} else {
			tr.AddSink(pub)
			notifier = pub
			run("mqtt", pub.Run)
		}
	}

	if cfg.OnlinePlay() {
		recorder, closeRecorder := openRecorder(ctx, cfg.DatabaseURL, logger)
		defer closeRecorder()
		client := lichess.NewClient(cfg.LichessBaseURL, cfg.LichessToken)
		runner := bridge.New(client, tr, bridge.Options{
			Poll:     cfg.MovePoll(),
			Recorder: recorder,
			Notifier: notifier,
			Logger:   logger.Named("bridge"),
		})
		run("bridge", runner.Run)
	} else {
		logger.Info("online_play_disabled", zap.String("token_file", cfg.LichessTokenFile))
	}

	<-ctx.Done()
	logger.Info("shutdown")
	wg.Wait()
}

// warnStartup reports settings under which the board will not be tracked.
func warnStartup(cfg *appcfg.AppConfig, db *signature.Database, logger *zap.Logger) {
	if !cfg.EmptyVotes {
		logger.Warn("empty_votes_disabled", zap.String("hint", "a square read as empty in every recent frame drops the board update; set BOARD_EMPTY_VOTES=true to let empty readings vote"))
	}
	if !cfg.Calibrate && db.Len() == 0 {
		logger.Warn("calibration_missing", zap.String("hint", "run with CALIBRATE=true and the pieces in the starting position"))
	}
}

func openRecorder(ctx context.Context, databaseURL string, logger *zap.Logger) (gamelog.Recorder, func()) {
	if databaseURL == "" {
		return gamelog.NewMemory(), func() {}
	}
	repo, err := gamelog.NewRepository(databaseURL)
	if err != nil {
		logger.Error("gamelog_init_error", zap.Error(err))
		return gamelog.NewMemory(), func() {}
	}
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.EnsureSchema(sctx); err != nil {
		logger.Error("gamelog_schema_error", zap.Error(err))
	}
	return repo, func() { _ = repo.Close() }
}
