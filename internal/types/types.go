package types

import "time"

// PointKind 定义点位的类型，创建后不可变
type PointKind string

const (
	KindReference  PointKind = "ref"     // 基准点 (Mark 点)，用于坐标配准
	KindInspection PointKind = "inspect" // 检测点，在该位置拍照并推理
)

// Point 表示一个示教点位，ID 是唯一标识
type Point struct {
	ID   int       `json:"id"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Kind PointKind `json:"type"`
}

// Position 表示机械坐标系或工件坐标系中的一个二维位置 (mm)
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ScanConfig 是扫描路径规划的输入
type ScanConfig struct {
	Width   float64 `json:"width_mm" mapstructure:"width_mm"`               // 工件宽度 (mm)
	Height  float64 `json:"height_mm" mapstructure:"height_mm"`             // 工件高度 (mm)
	Overlap float64 `json:"overlap_percent" mapstructure:"overlap_percent"` // 视野重叠比例 [0,1)
}

// ScanPoint 同时记录工件坐标和对应的机械坐标 (工件坐标 + 当前偏移)
type ScanPoint struct {
	ID       int     `json:"id"`
	WorkX    float64 `json:"work_x"`
	WorkY    float64 `json:"work_y"`
	MachineX float64 `json:"machine_x"`
	MachineY float64 `json:"machine_y"`
}

// Verdict 是单个检测点的判定结果
type Verdict string

const (
	VerdictOK Verdict = "OK"
	VerdictNG Verdict = "NG"
)

// Valid 判断判定值是否合法
func (v Verdict) Valid() bool {
	return v == VerdictOK || v == VerdictNG
}

// Detection 是推理引擎给出的一个缺陷框
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"box"` // [x, y, w, h]，像素坐标
}

// Classification 是推理引擎对一帧图像的输出
type Classification struct {
	Verdict    Verdict     `json:"result"`
	Detections []Detection `json:"detections"`
}

// ResultEntry 记录一个检测点的执行结果
type ResultEntry struct {
	PointID        int         `json:"point_id"`
	X              float64     `json:"x"`
	Y              float64     `json:"y"`
	Verdict        Verdict     `json:"result"`
	Detections     []Detection `json:"detections"`
	ImagePath      string      `json:"image_path"` // 相对于历史目录的路径
	ManualOverride bool        `json:"manual_override,omitempty"`
}

// RunMetadata 是一次运行的批次信息
type RunMetadata struct {
	PartNo    string    `json:"part_no"`
	BatchNo   string    `json:"batch_no"`
	StartTime time.Time `json:"start_time"` // 零值表示未指定，由编排器取当前时间
}

// RunStatus 是运行报告的最终状态
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// RunReport 是每次运行落盘的报告，写入后只允许人工复判修改 Verdict
type RunReport struct {
	Metadata    RunMetadata   `json:"metadata"`
	TotalPoints int           `json:"total_points"`
	Results     []ResultEntry `json:"results"`
	CompletedAt time.Time     `json:"completed_at"`
	Status      RunStatus     `json:"status"`
	Error       string        `json:"error,omitempty"`
}

// NGCount 统计报告中判定为 NG 的点数
func (r RunReport) NGCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Verdict == VerdictNG {
			n++
		}
	}
	return n
}

// JobState 是编排器对外暴露的运行状态，由编排器独占写入
type JobState struct {
	Running       bool          `json:"is_running"`
	State         string        `json:"state"`
	CurrentIndex  int           `json:"current_point_index"`
	TotalPoints   int           `json:"total_points"`
	LastError     string        `json:"last_error,omitempty"`
	ReportError   string        `json:"report_error,omitempty"` // 报告落盘失败，不影响运行结果本身
	Results       []ResultEntry `json:"results"`
	StopRequested bool          `json:"stop_requested"`
	RunID         string        `json:"run_id,omitempty"`
	Metadata      RunMetadata   `json:"metadata"`
}

// Clone 返回 JobState 的深拷贝，保证读者拿到的快照不会被后台协程修改
func (s JobState) Clone() JobState {
	out := s
	out.Results = make([]ResultEntry, len(s.Results))
	for i, r := range s.Results {
		if r.Detections != nil {
			r.Detections = append(make([]Detection, 0, len(r.Detections)), r.Detections...)
		}
		out.Results[i] = r
	}
	return out
}
