package main

import (
	"aoi-edge/internal/api"
	"aoi-edge/internal/camera"
	"aoi-edge/internal/config"
	"aoi-edge/internal/event"
	"aoi-edge/internal/handlers"
	"aoi-edge/internal/inference"
	"aoi-edge/internal/motion"
	"aoi-edge/internal/orchestrator"
	"aoi-edge/internal/persistence"
	"aoi-edge/internal/program"
	"aoi-edge/internal/report"
	"aoi-edge/internal/web"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inspection unit HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

// runServe 初始化所有组件并阻塞直到 ctx 取消
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. 初始化核心组件
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	reports, err := report.NewStore(cfg.Data.HistoryDir, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Data.WALPath), 0o755); err != nil {
		return fmt.Errorf("创建 WAL 目录失败: %w", err)
	}
	wal, err := persistence.NewWAL(cfg.Data.WALPath)
	if err != nil {
		return fmt.Errorf("无法初始化 WAL: %w", err)
	}
	defer wal.Close()

	programs, err := program.OpenStore(cfg.Data.ProgramDB)
	if err != nil {
		return err
	}
	defer programs.Close()

	sim := motion.NewSimulator(cfg.Motion.Envelope)
	cam, err := camera.Open(cfg.Camera, sim)
	if err != nil {
		return err
	}
	defer cam.Close()

	classifier, err := inference.New(cfg.Inference, logger)
	if err != nil {
		return err
	}

	hub := web.NewHub(logger)
	bus := event.NewBus()

	// 2. 注册事件处理器
	handlers.RegisterEventHandlers(bus, hub, logger)

	// 3. 初始化编排器
	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Deps{
		Motion:     sim,
		Camera:     cam,
		Classifier: classifier,
		Store:      reports,
		WAL:        wal,
		Bus:        bus,
		Logger:     logger,
	})

	// 4. 恢复上次中断的运行
	if n, err := orch.Recover(); err != nil {
		logger.Warn("从 WAL 恢复运行失败", "error", err)
	} else if n > 0 {
		logger.Info("已补写中断运行的报告", "count", n)
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Deps{
			Orchestrator:  orch,
			Reports:       reports,
			Motion:        sim,
			Camera:        cam,
			Classifier:    classifier,
			Session:       program.NewSession(),
			Programs:      programs,
			Hub:           hub,
			FOV:           cfg.Scan.FOV,
			MaxScanPoints: cfg.Scan.MaxPoints,
			Logger:        logger,
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// 5. 启动并等待退出
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("=== AOI 边缘检测单元启动 ===", "addr", cfg.Server.Addr, "camera", cfg.Camera.Source, "inference", cfg.Inference.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("接收到停机信号，正在优雅关闭...")

		// 当前运行在点位边界停下，报告照常写出
		orch.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		orch.Wait()
		bus.Drain()
		return err
	})

	err = g.Wait()
	logger.Info("系统已安全退出")
	return err
}
