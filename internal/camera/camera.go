// Package camera 提供图像源：模拟相机 (默认) 和基于 gocv 的 USB 工业相机
package camera

import (
	"aoi-edge/internal/types"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Source 是相机的统一接口，编排器只依赖 Flush 和 Capture
type Source interface {
	Flush(ctx context.Context, n int) error
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// Config 定义相机配置
type Config struct {
	Source       string `mapstructure:"source"` // synthetic | device
	DeviceID     int    `mapstructure:"device_id"`
	Width        int    `mapstructure:"width"`
	Height       int    `mapstructure:"height"`
	FrameDelayMs int    `mapstructure:"frame_delay_ms"` // 模拟相机每帧耗时
	PixelsPerMM  int    `mapstructure:"pixels_per_mm"`  // 模拟画面中的比例尺
}

// PositionSource 提供当前机械坐标，模拟相机据此渲染画面
type PositionSource interface {
	Position() types.Position
}

// Open 根据配置创建图像源
func Open(cfg Config, pos PositionSource) (Source, error) {
	switch cfg.Source {
	case "", "synthetic":
		return NewSynthetic(cfg, pos), nil
	case "device":
		return OpenDevice(cfg.DeviceID)
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

// Synthetic 模拟相机：画面随平台位置变化，便于在没有硬件时联调
type Synthetic struct {
	width, height int
	pxPerMM       int
	frameDelay    time.Duration
	pos           PositionSource
}

// NewSynthetic 创建模拟相机
func NewSynthetic(cfg Config, pos PositionSource) *Synthetic {
	s := &Synthetic{
		width:      cfg.Width,
		height:     cfg.Height,
		pxPerMM:    cfg.PixelsPerMM,
		frameDelay: time.Duration(cfg.FrameDelayMs) * time.Millisecond,
		pos:        pos,
	}
	if s.width <= 0 || s.height <= 0 {
		s.width, s.height = 640, 480
	}
	if s.pxPerMM <= 0 {
		s.pxPerMM = 1
	}
	return s
}

// Flush 读取并丢弃 n 帧，确保下一帧是到位之后的新画面
func (s *Synthetic) Flush(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.Capture(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Capture 渲染一帧
func (s *Synthetic) Capture(ctx context.Context) (image.Image, error) {
	if s.frameDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.frameDelay):
		}
	}

	pos := s.pos.Position()
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	// 中心十字线
	cx, cy := s.width/2, s.height/2
	yellow := color.RGBA{R: 255, G: 255, A: 255}
	for d := -10; d <= 10; d++ {
		img.Set(cx+d, cy, yellow)
		img.Set(cx, cy+d, yellow)
	}

	// 跟随机械坐标移动的标记块，画面 Y 轴向下
	mx := 50 + int(pos.X)*s.pxPerMM
	my := s.height - 80 - int(pos.Y)*s.pxPerMM
	fillRect(img, image.Rect(mx-15, my-15, mx+15, my+15), yellow)

	drawText(img, 10, 20, fmt.Sprintf("POS: X%.1f Y%.1f", pos.X, pos.Y), color.White)
	drawText(img, 10, 40, "SIMULATED", color.RGBA{G: 255, A: 255})
	return img, nil
}

// Close 模拟相机无需释放资源
func (s *Synthetic) Close() error { return nil }

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func drawText(img *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
