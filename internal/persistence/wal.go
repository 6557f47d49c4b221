package persistence

import (
	"aoi-edge/internal/types"
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
)

// 日志记录类型
const (
	EntryRunStart    = "RUN_START"
	EntryPoint       = "POINT"
	EntryRunComplete = "RUN_COMPLETE"
)

// LogEntry 代表 WAL 文件中的一条日志记录
type LogEntry struct {
	Type        string             `json:"type"`                   // RUN_START / POINT / RUN_COMPLETE
	RunID       string             `json:"run_id"`                 // 所属运行
	Metadata    *types.RunMetadata `json:"metadata,omitempty"`     // 仅 RUN_START
	TotalPoints int                `json:"total_points,omitempty"` // 仅 RUN_START
	Result      *types.ResultEntry `json:"result,omitempty"`       // 仅 POINT
}

// PendingRun 是日志中已开始但未完成的运行
type PendingRun struct {
	RunID       string
	Metadata    types.RunMetadata
	TotalPoints int
	Results     []types.ResultEntry
}

// WAL (Write-Ahead Log) 记录运行进度，进程崩溃后用于补写中断运行的报告
type WAL struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// NewWAL 创建或打开一个 WAL 文件
func NewWAL(path string) (*WAL, error) {
	// O_APPEND: 追加写入, O_CREATE: 文件不存在则创建, O_RDWR: 读写模式
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{file: file}, nil
}

// Start 记录一次运行开始
func (w *WAL) Start(runID string, meta types.RunMetadata, total int) error {
	return w.write(LogEntry{Type: EntryRunStart, RunID: runID, Metadata: &meta, TotalPoints: total})
}

// Point 记录一个已完成的点位结果
func (w *WAL) Point(runID string, res types.ResultEntry) error {
	return w.write(LogEntry{Type: EntryPoint, RunID: runID, Result: &res})
}

// Complete 标记运行已结束 (报告已写出)
func (w *WAL) Complete(runID string) error {
	return w.write(LogEntry{Type: EntryRunComplete, RunID: runID})
}

func (w *WAL) write(entry LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// 写入数据并在末尾添加换行符
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	// 确保数据被刷新到磁盘，防止数据丢失
	return w.file.Sync()
}

// Recover 找出已开始但没有完成记录的运行，按运行编号排序
// 在系统启动时调用
func (w *WAL) Recover() ([]PendingRun, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 将文件指针移动到开头以进行读取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	pending := make(map[string]*PendingRun)
	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// 忽略损坏的行 (通常是崩溃时写了一半的最后一行)
			continue
		}

		switch entry.Type {
		case EntryRunStart:
			run := &PendingRun{RunID: entry.RunID, TotalPoints: entry.TotalPoints}
			if entry.Metadata != nil {
				run.Metadata = *entry.Metadata
			}
			pending[entry.RunID] = run
		case EntryPoint:
			if run, ok := pending[entry.RunID]; ok && entry.Result != nil {
				run.Results = append(run.Results, *entry.Result)
			}
		case EntryRunComplete:
			delete(pending, entry.RunID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// 恢复文件指针到末尾，以便后续追加写入
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	runs := make([]PendingRun, 0, len(pending))
	for _, run := range pending {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// Compact 在没有未完成运行时清空日志，避免文件无限增长
func (w *WAL) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Close 关闭 WAL 文件
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
