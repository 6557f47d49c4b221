package orchestrator

import (
	"aoi-edge/internal/types"
	"context"
	"errors"
	"image"
	"sync"
)

// fakeMotion 记录到访位置；设置 gate 后第一次 MoveTo 会阻塞直到 gate 被关闭
type fakeMotion struct {
	mu      sync.Mutex
	pos     types.Position
	visited []types.Position

	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newGatedMotion() *fakeMotion {
	return &fakeMotion{gate: make(chan struct{}), entered: make(chan struct{})}
}

func (m *fakeMotion) MoveTo(ctx context.Context, x, y float64) (types.Position, error) {
	if m.gate != nil {
		m.once.Do(func() { close(m.entered) })
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = types.Position{X: x, Y: y}
	m.visited = append(m.visited, m.pos)
	return m.pos, nil
}

func (m *fakeMotion) Position() types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *fakeMotion) Visited() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Position(nil), m.visited...)
}

type fakeCamera struct {
	mu      sync.Mutex
	flushed []int
}

func (c *fakeCamera) Flush(ctx context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed = append(c.flushed, n)
	return nil
}

func (c *fakeCamera) Capture(ctx context.Context) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 16, 16)), nil
}

// fakeClassifier 按调用序号 (从 1 开始) 决定 NG、失败或 panic
type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	ngOn    map[int]bool
	failOn  int
	panicOn int
}

func (c *fakeClassifier) Classify(ctx context.Context, img image.Image) (types.Classification, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	switch {
	case n == c.failOn:
		return types.Classification{}, errors.New("inference backend unavailable")
	case n == c.panicOn:
		panic("model crashed")
	case c.ngOn[n]:
		return types.Classification{
			Verdict:    types.VerdictNG,
			Detections: []types.Detection{{Label: "missing_component", Confidence: 0.9, Box: [4]int{1, 2, 50, 50}}},
		}, nil
	}
	return types.Classification{Verdict: types.VerdictOK}, nil
}

// failingSaveStore 包装真实存储，但报告写入总是失败
type failingSaveStore struct {
	Store
}

func (s failingSaveStore) Save(runID string, rep types.RunReport) error {
	return errors.New("disk full")
}
