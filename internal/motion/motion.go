// Package motion 模拟 XY 运动平台：软限位、工件坐标偏移 (G54)、点动、回零
package motion

import (
	"aoi-edge/internal/types"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidAxis 点动只支持 x / y
var ErrInvalidAxis = errors.New("invalid axis")

// Envelope 是软限位行程范围 (mm)
type Envelope struct {
	MaxX float64 `mapstructure:"max_x"`
	MaxY float64 `mapstructure:"max_y"`
}

// DefaultEnvelope 模拟平台行程 0-300mm
var DefaultEnvelope = Envelope{MaxX: 300, MaxY: 300}

// Status 同时给出机械坐标、工件坐标和偏移
type Status struct {
	Machine types.Position `json:"machine"`
	Work    types.Position `json:"work"`
	Offset  types.Position `json:"offset"`
}

// Simulator 是内存中的运动平台，到位是瞬时的，节拍由编排器控制
type Simulator struct {
	mu       sync.RWMutex
	pos      types.Position
	offset   types.Position
	envelope Envelope
}

// NewSimulator 创建模拟平台，初始位置为机械零点
func NewSimulator(envelope Envelope) *Simulator {
	return &Simulator{envelope: envelope}
}

// MoveTo 移动到机械坐标 (x, y)，超出行程的部分被裁剪
func (s *Simulator) MoveTo(ctx context.Context, x, y float64) (types.Position, error) {
	if err := ctx.Err(); err != nil {
		return types.Position{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = s.clip(x, y)
	return s.pos, nil
}

// Position 返回当前机械坐标
func (s *Simulator) Position() types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Offset 返回当前工件坐标偏移
func (s *Simulator) Offset() types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Jog 沿单轴点动 distance (mm)
func (s *Simulator) Jog(axis string, distance float64) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.pos
	switch strings.ToLower(axis) {
	case "x":
		target.X += distance
	case "y":
		target.Y += distance
	default:
		return Status{}, fmt.Errorf("%w: %q", ErrInvalidAxis, axis)
	}
	s.pos = s.clip(target.X, target.Y)
	return s.statusLocked(), nil
}

// Home 回到机械零点
func (s *Simulator) Home() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = types.Position{}
	return s.statusLocked()
}

// Zero 把当前机械位置设为新的工件零点
func (s *Simulator) Zero() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = s.pos
	return s.statusLocked()
}

// Status 返回平台状态
func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Simulator) statusLocked() Status {
	return Status{
		Machine: s.pos,
		Offset:  s.offset,
		Work:    types.Position{X: s.pos.X - s.offset.X, Y: s.pos.Y - s.offset.Y},
	}
}

func (s *Simulator) clip(x, y float64) types.Position {
	return types.Position{
		X: max(0, min(s.envelope.MaxX, x)),
		Y: max(0, min(s.envelope.MaxY, y)),
	}
}
