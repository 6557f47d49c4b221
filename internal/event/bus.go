package event

import (
	"aoi-edge/internal/types"
	"sync"
	"time"
)

// EventType 定义事件的类型
type EventType string

// 定义所有业务事件类型
const (
	RunStarted     EventType = "RunStarted"     // 运行开始
	PointInspected EventType = "PointInspected" // 单个点位检测完成
	RunFinished    EventType = "RunFinished"    // 运行结束 (完成、停止或失败)
	ReportFailed   EventType = "ReportFailed"   // 报告写入失败
)

// Event 结构体定义了事件的数据负载
type Event struct {
	Type     EventType          // 事件类型
	RunID    string             // 关联的运行编号
	State    types.JobState     // 事件发生时的状态快照
	Result   *types.ResultEntry // 点位结果 (仅 PointInspected)
	Duration time.Duration      // 点位流水线耗时 (仅 PointInspected)
	Distance float64            // 移动距离 mm (仅 PointInspected)
	Status   types.RunStatus    // 运行结果 (仅 RunFinished)
	Error    error              // 错误信息 (失败事件)
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler // 存储事件类型到多个处理函数的映射
	wg       sync.WaitGroup
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// 遍历所有处理器并异步执行
	// 使用 goroutine 避免单个处理器的阻塞影响运行本身
	for _, handler := range b.handlers[e.Type] {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(e)
		}(handler)
	}
}

// Drain 等待所有已派发的处理器执行完毕 (停机和测试用)
func (b *Bus) Drain() {
	b.wg.Wait()
}
