// inference-server 是独立部署的模拟推理服务，供 inference.mode=remote 时调用
package main

import (
	"aoi-edge/internal/inference"
	"context"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "inference-server")
	slog.SetDefault(logger)

	addr := envOr("INFERENCE_ADDR", ":9090")
	cfg := inference.Config{
		NGProbability: envFloat("INFERENCE_NG_PROBABILITY", 0.3),
		LatencyMs:     int(envFloat("INFERENCE_LATENCY_MS", 500)),
		VerdictRule:   os.Getenv("INFERENCE_VERDICT_RULE"),
	}
	classifier, err := inference.NewSimulated(cfg, rand.NewSource(time.Now().UnixNano()))
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/classify", classifyHandler(classifier, logger))

	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("=== 远程推理服务启动 ===", "addr", addr, "ng_probability", cfg.NGProbability)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("收到退出信号，正在关闭...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func classifyHandler(c inference.Classifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 从 HTTP Header 中提取 Trace ID，用于链路追踪
		reqLogger := logger
		if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
			reqLogger = reqLogger.With("trace_id", traceID)
		}

		img, _, err := image.Decode(r.Body)
		if err != nil {
			reqLogger.Warn("解析图像失败", "error", err)
			writeResponse(w, http.StatusBadRequest, inference.RemoteResponse{Error: err.Error()})
			return
		}

		reqLogger.Info("接收到推理请求", "width", img.Bounds().Dx(), "height", img.Bounds().Dy())
		res, err := c.Classify(r.Context(), img)
		if err != nil {
			reqLogger.Error("推理失败", "error", err)
			writeResponse(w, http.StatusOK, inference.RemoteResponse{Error: err.Error()})
			return
		}

		reqLogger.Info("推理完成", "result", res.Verdict, "detections", len(res.Detections))
		writeResponse(w, http.StatusOK, inference.RemoteResponse{
			Success:    true,
			Verdict:    res.Verdict,
			Detections: res.Detections,
		})
	}
}

func writeResponse(w http.ResponseWriter, status int, resp inference.RemoteResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}
