package fsm

import (
	"fmt"
	"log/slog"
	"sync"
)

// State 定义状态类型
type State string

// Event 定义事件类型
type Event string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
)

const (
	EventStart  Event = "START"
	EventFinish Event = "FINISH" // 正常结束或被停止
	EventFail   Event = "FAIL"
)

// FSM 运行生命周期的有限状态机
type FSM struct {
	current State
	mu      sync.Mutex
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[State]map[Event]State
	// callbacks 定义状态变更后的回调: State -> func()
	callbacks map[State]func(targetID string)
	targetID  string // 当前关联的运行编号
	logger    *slog.Logger
}

func NewFSM(logger *slog.Logger) *FSM {
	fsm := &FSM{
		current:     StateIdle,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]func(string)),
		logger:      logger.With("component", "fsm"),
	}
	fsm.initTransitions()
	return fsm
}

func (f *FSM) initTransitions() {
	f.addTransition(StateIdle, EventStart, StateRunning)
	f.addTransition(StateRunning, EventFinish, StateCompleted)
	f.addTransition(StateRunning, EventFail, StateError)

	// 上一次运行结束后可以再次开始
	f.addTransition(StateCompleted, EventStart, StateRunning)
	f.addTransition(StateError, EventStart, StateRunning)
}

func (f *FSM) addTransition(from State, event Event, to State) {
	if _, ok := f.transitions[from]; !ok {
		f.transitions[from] = make(map[Event]State)
	}
	f.transitions[from][event] = to
}

// RegisterCallback 注册状态进入时的回调
func (f *FSM) RegisterCallback(state State, callback func(targetID string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[state] = callback
}

// Current 返回当前状态
func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Fire 触发事件，targetID 为空时沿用上一次的运行编号
func (f *FSM) Fire(event Event, targetID string) error {
	f.mu.Lock()

	// 查找合法的转移
	nextState, ok := f.transitions[f.current][event]
	if !ok {
		cur := f.current
		f.mu.Unlock()
		return fmt.Errorf("invalid transition: cannot fire event %s from state %s", event, cur)
	}

	prevState := f.current
	f.current = nextState
	if targetID != "" {
		f.targetID = targetID
	}
	id := f.targetID
	cb := f.callbacks[nextState]
	f.mu.Unlock()

	f.logger.Debug("状态转移", "run_id", id, "from", prevState, "to", nextState, "event", event)

	// 回调在锁外执行，回调中可以查询状态
	if cb != nil {
		cb(id)
	}
	return nil
}
