package inference

import (
	"aoi-edge/internal/types"
	"aoi-edge/internal/util"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
)

// Remote 通过 HTTP 调用独立部署的推理服务
// 不设置超时：推理卡住时运行会一直等待，由操作员停止
type Remote struct {
	Endpoint string       // 远程服务的地址 (e.g., http://localhost:9090)
	Client   *http.Client // HTTP 客户端
	logger   *slog.Logger
}

// NewRemote 创建远程分类器
func NewRemote(endpoint string, logger *slog.Logger) *Remote {
	return &Remote{
		Endpoint: endpoint,
		Client:   &http.Client{},
		logger:   logger.With("component", "remote_inference", "endpoint", endpoint),
	}
}

// RemoteResponse 是远程推理服务的响应体
type RemoteResponse struct {
	Success    bool              `json:"success"`
	Verdict    types.Verdict     `json:"result"`
	Detections []types.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// Classify 把图像编码为 JPEG，POST 到远程服务的 /classify 端点
func (r *Remote) Classify(ctx context.Context, img image.Image) (types.Classification, error) {
	logger := r.logger
	traceID, hasTrace := util.TraceIDFromContext(ctx)
	if hasTrace {
		logger = logger.With("trace_id", traceID)
	}

	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		return types.Classification{}, fmt.Errorf("编码图像失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint+"/classify", &body)
	if err != nil {
		return types.Classification{}, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	if hasTrace {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		logger.Error("远程推理调用失败", "error", err)
		return types.Classification{}, fmt.Errorf("远程推理调用失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("远程推理服务返回错误状态", "status", resp.Status)
		return types.Classification{}, fmt.Errorf("远程推理服务错误: %s", resp.Status)
	}

	var rr RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return types.Classification{}, fmt.Errorf("解析推理响应失败: %w", err)
	}
	if !rr.Success {
		return types.Classification{}, fmt.Errorf("远程推理失败: %s", rr.Error)
	}
	if !rr.Verdict.Valid() {
		return types.Classification{}, fmt.Errorf("远程推理返回非法判定 %q", rr.Verdict)
	}
	if rr.Detections == nil {
		rr.Detections = []types.Detection{}
	}

	logger.Debug("远程推理完成", "result", rr.Verdict, "detections", len(rr.Detections))
	return types.Classification{Verdict: rr.Verdict, Detections: rr.Detections}, nil
}
