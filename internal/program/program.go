// Package program 管理示教程序：基准点、检测点，以及程序的持久化和导出
package program

import (
	"aoi-edge/internal/types"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound        = errors.New("program not found")
	ErrInvalidRefIndex = errors.New("reference index must be 1, 2 or 3")
	ErrInvalidName     = errors.New("invalid program name")
)

// MaxRefs 基准点最多 3 个 (编号 1..3)
const MaxRefs = 3

// Program 是一份示教程序
type Program struct {
	Name   string        `json:"name"`
	Refs   []types.Point `json:"refs"`
	Points []types.Point `json:"points"`
}

// New 创建一个空程序
func New(name string) *Program {
	return &Program{Name: name, Refs: []types.Point{}, Points: []types.Point{}}
}

// SetRef 在编号 idx 处记录基准点，已存在则替换，并保持按编号升序
func (p *Program) SetRef(idx int, pos types.Position) error {
	if idx < 1 || idx > MaxRefs {
		return fmt.Errorf("%w: got %d", ErrInvalidRefIndex, idx)
	}
	refs := p.Refs[:0:0]
	for _, r := range p.Refs {
		if r.ID != idx {
			refs = append(refs, r)
		}
	}
	refs = append(refs, types.Point{ID: idx, X: pos.X, Y: pos.Y, Kind: types.KindReference})
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	p.Refs = refs
	return nil
}

// AddPoint 追加一个检测点，编号为当前数量 + 1
func (p *Program) AddPoint(pos types.Position) types.Point {
	pt := types.Point{ID: len(p.Points) + 1, X: pos.X, Y: pos.Y, Kind: types.KindInspection}
	p.Points = append(p.Points, pt)
	return pt
}

// Clone 深拷贝，避免调用方修改内部切片
func (p *Program) Clone() *Program {
	return &Program{
		Name:   p.Name,
		Refs:   append([]types.Point{}, p.Refs...),
		Points: append([]types.Point{}, p.Points...),
	}
}

// ValidateName 程序名同时用作存储键和导出文件名
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Session 持有当前正在编辑的程序，供 HTTP 层并发访问
type Session struct {
	mu      sync.RWMutex
	current *Program
}

// NewSession 创建会话，初始程序为 Untitled
func NewSession() *Session {
	return &Session{current: New("Untitled")}
}

// Current 返回当前程序的快照
func (s *Session) Current() *Program {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// RecordRef 记录基准点
func (s *Session) RecordRef(idx int, pos types.Position) (*Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.current.SetRef(idx, pos); err != nil {
		return nil, err
	}
	return s.current.Clone(), nil
}

// RecordPoint 记录检测点
func (s *Session) RecordPoint(pos types.Position) *Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.AddPoint(pos)
	return s.current.Clone()
}

// Clear 重置为空程序
func (s *Session) Clear() *Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = New("Untitled")
	return s.current.Clone()
}

// Rename 修改当前程序名 (保存前调用)
func (s *Session) Rename(name string) *Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Name = name
	return s.current.Clone()
}

// Replace 用加载的程序替换当前程序
func (s *Session) Replace(p *Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p.Clone()
}
