// Package report 管理运行历史：每次运行一个目录，目录下是各点位图像和 report.json
package report

import (
	"aoi-edge/internal/types"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReportFile 是每个运行目录中的报告文件名
const ReportFile = "report.json"

// RunIDLayout 是运行编号的时间格式，字典序即时间序
const RunIDLayout = "20060102_150405"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRunID   = errors.New("invalid run id")
	ErrInvalidVerdict = errors.New("invalid verdict")
)

// Stats 是历史列表中的统计
type Stats struct {
	Total int `json:"total"`
	NG    int `json:"ng"`
}

// Summary 是历史列表中的一项
type Summary struct {
	RunID       string            `json:"run_id"`
	Metadata    types.RunMetadata `json:"metadata"`
	CompletedAt time.Time         `json:"completed_at"`
	Status      types.RunStatus   `json:"status"`
	Stats       Stats             `json:"stats"`
}

// Store 基于文件系统的运行历史存储
type Store struct {
	root   string
	mu     sync.Mutex // 串行化报告文件的读改写
	logger *slog.Logger
}

// NewStore 创建历史存储，root 不存在时自动创建
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("创建历史目录失败: %w", err)
	}
	return &Store{root: root, logger: logger.With("component", "report_store")}, nil
}

// Root 返回历史根目录 (用于静态文件服务)
func (s *Store) Root() string {
	return s.root
}

// NewRunID 由开始时间生成运行编号
func NewRunID(start time.Time) string {
	return start.Format(RunIDLayout)
}

// CreateRun 创建运行目录
func (s *Store) CreateRun(runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建运行目录失败: %w", err)
	}
	return nil
}

// SaveImage 把点位图像保存为 <pointID>.jpg，返回相对于历史根目录的路径
func (s *Store) SaveImage(runID string, pointID int, img image.Image) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	name := strconv.Itoa(pointID) + ".jpg"
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("保存图像失败: %w", err)
	}
	if err := writeJPEG(f, img); err != nil {
		return "", err
	}
	return runID + "/" + name, nil
}

// writeJPEG 编码后关闭 wc；关闭时才暴露的写入错误同样返回
func writeJPEG(wc io.WriteCloser, img image.Image) error {
	if err := jpeg.Encode(wc, img, &jpeg.Options{Quality: 90}); err != nil {
		wc.Close()
		return fmt.Errorf("编码图像失败: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("保存图像失败: %w", err)
	}
	return nil
}

// Save 写入运行报告
func (s *Store) Save(runID string, rep types.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(runID, rep)
}

// Get 读取运行报告
func (s *Store) Get(runID string) (types.RunReport, error) {
	path, err := s.reportPath(runID)
	if err != nil {
		return types.RunReport{}, err
	}
	return readReport(path)
}

// List 列出所有运行，最新的在前；报告缺失或损坏的目录会被跳过并记录原因
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("读取历史目录失败: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	runs := make([]Summary, 0, len(names))
	for _, name := range names {
		rep, err := readReport(filepath.Join(s.root, name, ReportFile))
		if err != nil {
			s.logger.Warn("跳过无法读取的运行记录", "run_id", name, "error", err)
			continue
		}
		runs = append(runs, Summary{
			RunID:       name,
			Metadata:    rep.Metadata,
			CompletedAt: rep.CompletedAt,
			Status:      rep.Status,
			Stats:       Stats{Total: len(rep.Results), NG: rep.NGCount()},
		})
	}
	return runs, nil
}

// OverrideResult 人工复判：修改指定点位的判定并打上 manual_override 标记
// 运行或点位不存在时返回 ErrNotFound，文件保持不变
func (s *Store) OverrideResult(runID string, pointID int, verdict types.Verdict) (types.ResultEntry, error) {
	if !verdict.Valid() {
		return types.ResultEntry{}, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.reportPath(runID)
	if err != nil {
		return types.ResultEntry{}, err
	}
	rep, err := readReport(path)
	if err != nil {
		return types.ResultEntry{}, err
	}

	for i := range rep.Results {
		if rep.Results[i].PointID == pointID {
			rep.Results[i].Verdict = verdict
			rep.Results[i].ManualOverride = true
			if err := s.writeLocked(runID, rep); err != nil {
				return types.ResultEntry{}, err
			}
			return rep.Results[i], nil
		}
	}
	return types.ResultEntry{}, fmt.Errorf("%w: point %d in run %s", ErrNotFound, pointID, runID)
}

// writeLocked 先写临时文件再重命名，读者不会看到写了一半的报告
func (s *Store) writeLocked(runID string, rep types.RunReport) error {
	path, err := s.reportPath(runID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	return nil
}

func (s *Store) runDir(runID string) (string, error) {
	if runID == "" || runID == "." || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(s.root, runID), nil
}

func (s *Store) reportPath(runID string) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ReportFile), nil
}

func readReport(path string) (types.RunReport, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return types.RunReport{}, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(filepath.Dir(path)))
	}
	if err != nil {
		return types.RunReport{}, err
	}
	var rep types.RunReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return types.RunReport{}, fmt.Errorf("解析报告失败: %w", err)
	}
	return rep, nil
}
