// Package inference 提供缺陷分类器：本地模拟推理和远程推理服务客户端
package inference

import (
	"aoi-edge/internal/types"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
)

// DefaultVerdictRule 有任何缺陷框即判 NG
const DefaultVerdictRule = "len(detections) > 0"

// Classifier 是推理引擎接口
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (types.Classification, error)
}

// Config 定义推理配置
type Config struct {
	Mode          string  `mapstructure:"mode"`           // simulated | remote
	Endpoint      string  `mapstructure:"endpoint"`       // 远程推理服务地址
	NGProbability float64 `mapstructure:"ng_probability"` // 模拟推理出现缺陷的概率
	LatencyMs     int     `mapstructure:"latency_ms"`     // 模拟推理耗时
	VerdictRule   string  `mapstructure:"verdict_rule"`   // 判定规则表达式 (expr 语法)，结果为 true 判 NG
}

// New 根据配置创建分类器
func New(cfg Config, logger *slog.Logger) (Classifier, error) {
	switch cfg.Mode {
	case "", "simulated":
		return NewSimulated(cfg, rand.NewSource(time.Now().UnixNano()))
	case "remote":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("remote inference requires an endpoint")
		}
		return NewRemote(cfg.Endpoint, logger), nil
	default:
		return nil, fmt.Errorf("unknown inference mode %q", cfg.Mode)
	}
}

// VerdictRule 是编译后的判定规则
type VerdictRule struct {
	source  string
	program *vm.Program
}

// CompileRule 编译判定规则，规则环境中可以访问 detections
func CompileRule(rule string) (*VerdictRule, error) {
	if rule == "" {
		rule = DefaultVerdictRule
	}
	env := map[string]interface{}{"detections": []types.Detection{}}
	program, err := expr.Compile(rule, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("rule compilation failed: %w", err)
	}
	return &VerdictRule{source: rule, program: program}, nil
}

// Evaluate 根据缺陷框给出判定
func (r *VerdictRule) Evaluate(detections []types.Detection) (types.Verdict, error) {
	env := map[string]interface{}{"detections": detections}
	result, err := expr.Run(r.program, env)
	if err != nil {
		return "", fmt.Errorf("rule execution failed: %w", err)
	}
	ng, ok := result.(bool)
	if !ok {
		return "", fmt.Errorf("rule result is not a boolean")
	}
	if ng {
		return types.VerdictNG, nil
	}
	return types.VerdictOK, nil
}

// Simulated 模拟 YOLO 推理：按概率给出缺陷框，再用判定规则得出 OK/NG
type Simulated struct {
	mu      sync.Mutex
	rng     *rand.Rand
	ngProb  float64
	latency time.Duration
	rule    *VerdictRule
}

// NewSimulated 创建模拟分类器，src 可注入固定种子以便测试
func NewSimulated(cfg Config, src rand.Source) (*Simulated, error) {
	rule, err := CompileRule(cfg.VerdictRule)
	if err != nil {
		return nil, err
	}
	return &Simulated{
		rng:     rand.New(src),
		ngProb:  cfg.NGProbability,
		latency: time.Duration(cfg.LatencyMs) * time.Millisecond,
		rule:    rule,
	}, nil
}

// Classify 模拟推理耗时并返回结果
func (s *Simulated) Classify(ctx context.Context, img image.Image) (types.Classification, error) {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return types.Classification{}, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	s.mu.Lock()
	defective := s.rng.Float64() < s.ngProb
	confidence := 0.8 + s.rng.Float64()*0.2
	s.mu.Unlock()

	detections := []types.Detection{}
	if defective {
		box := [4]int{100, 100, 50, 50}
		if img != nil {
			b := img.Bounds()
			box = [4]int{b.Dx() / 6, b.Dy() / 5, 50, 50}
		}
		detections = append(detections, types.Detection{
			Label:      "missing_component",
			Confidence: confidence,
			Box:        box,
		})
	}

	verdict, err := s.rule.Evaluate(detections)
	if err != nil {
		return types.Classification{}, err
	}
	return types.Classification{Verdict: verdict, Detections: detections}, nil
}
