// Package planner 根据工件尺寸和相机视野生成蛇形 (S 形) 扫描路径
package planner

import (
	"aoi-edge/internal/types"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig 表示扫描参数不合法
var ErrInvalidConfig = errors.New("invalid scan config")

// FOV 是相机视野尺寸 (mm)，真实设备中来自标定 (像素数 * mm/像素)
type FOV struct {
	Width  float64 `mapstructure:"width_mm"`
	Height float64 `mapstructure:"height_mm"`
}

// DefaultFOV 模拟相机的视野 40mm x 30mm
var DefaultFOV = FOV{Width: 40, Height: 30}

const (
	// DefaultMaxPoints 单次规划允许的最大点位数
	DefaultMaxPoints = 10000
	// HardMaxPoints 是 max_points 配置的上限，Plan 超过它直接返回空路径
	HardMaxPoints = 1_000_000
)

// Validate 在调用 Plan 之前校验用户输入，maxPoints <= 0 时使用 DefaultMaxPoints
func Validate(cfg types.ScanConfig, fov FOV, maxPoints int) error {
	if cfg.Overlap < 0 || cfg.Overlap >= 1 || math.IsNaN(cfg.Overlap) {
		return fmt.Errorf("%w: overlap %.3f must be in [0,1)", ErrInvalidConfig, cfg.Overlap)
	}
	if !finite(cfg.Width) || !finite(cfg.Height) {
		return fmt.Errorf("%w: workpiece size must be finite", ErrInvalidConfig)
	}
	if cfg.Width < 0 || cfg.Height < 0 {
		return fmt.Errorf("%w: negative workpiece size %.2fx%.2f", ErrInvalidConfig, cfg.Width, cfg.Height)
	}
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	maxPoints = min(maxPoints, HardMaxPoints)
	cols, rows := grid(cfg, fov)
	if cols*rows > float64(maxPoints) {
		return fmt.Errorf("%w: %.0fx%.0f grid exceeds %d points", ErrInvalidConfig, cols, rows, maxPoints)
	}
	return nil
}

// grid 返回列数和行数；用浮点数避免超大尺寸在转换为 int 前溢出
func grid(cfg types.ScanConfig, fov FOV) (cols, rows float64) {
	stepX := fov.Width * (1 - cfg.Overlap)
	stepY := fov.Height * (1 - cfg.Overlap)
	if stepX <= 0 || stepY <= 0 {
		return 0, 0
	}
	return math.Ceil(cfg.Width / stepX), math.Ceil(cfg.Height / stepY)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Plan 生成蛇形扫描路径
// 偶数行从左到右，奇数行从右到左；机械坐标 = 偏移 + 工件坐标
func Plan(cfg types.ScanConfig, fov FOV, offset types.Position) []types.ScanPoint {
	fc, fr := grid(cfg, fov)
	if !(fc > 0 && fr > 0) || fc*fr > HardMaxPoints {
		return []types.ScanPoint{}
	}
	cols, rows := int(fc), int(fr)
	stepX := fov.Width * (1 - cfg.Overlap)
	stepY := fov.Height * (1 - cfg.Overlap)

	path := make([]types.ScanPoint, 0, cols*rows)
	id := 1
	for row := 0; row < rows; row++ {
		y := float64(row) * stepY
		for i := 0; i < cols; i++ {
			col := i
			if row%2 == 1 {
				col = cols - 1 - i
			}
			x := float64(col) * stepX
			path = append(path, types.ScanPoint{
				ID:       id,
				WorkX:    Round2(x),
				WorkY:    Round2(y),
				MachineX: Round2(offset.X + x),
				MachineY: Round2(offset.Y + y),
			})
			id++
		}
	}
	return path
}

// Round2 四舍五入到两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
