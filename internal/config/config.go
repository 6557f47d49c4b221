package config

import (
	"aoi-edge/internal/camera"
	"aoi-edge/internal/inference"
	"aoi-edge/internal/motion"
	"aoi-edge/internal/orchestrator"
	"aoi-edge/internal/planner"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Data         DataConfig          `mapstructure:"data"`
	Log          LogConfig           `mapstructure:"log"`
	Scan         ScanConfig          `mapstructure:"scan"`
	Motion       MotionConfig        `mapstructure:"motion"`
	Camera       camera.Config       `mapstructure:"camera"`
	Inference    inference.Config    `mapstructure:"inference"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"` // 监听地址
}

// DataConfig 数据目录配置
type DataConfig struct {
	HistoryDir string `mapstructure:"history_dir"` // 运行历史 (图像 + report.json)
	ProgramDB  string `mapstructure:"program_db"`  // 示教程序 SQLite 文件
	WALPath    string `mapstructure:"wal_path"`    // 运行预写日志
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"` // debug | info | warn | error
}

// ScanConfig 扫描规划配置
type ScanConfig struct {
	FOV       planner.FOV `mapstructure:"fov"`        // 相机单帧视野 (mm)
	MaxPoints int         `mapstructure:"max_points"` // 单次规划的点位上限
}

// MotionConfig 运动平台配置
type MotionConfig struct {
	Envelope motion.Envelope `mapstructure:"envelope"` // 软限位行程
}

// Load 加载配置：先读取 .env (可选)，再读取 path 指定的 yaml (为空时在当前目录查找 config.yaml)，
// 最后由 AOI_ 前缀的环境变量覆盖，例如 AOI_SERVER_ADDR
func Load(path string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AOI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名称 (不带扩展名)
		v.SetConfigType("yaml")   // 配置文件类型
		v.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)
	}

	// 读取配置文件；默认位置没有配置文件时使用默认值
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("data.history_dir", "data/history")
	v.SetDefault("data.program_db", "data/programs.db")
	v.SetDefault("data.wal_path", "data/runs.wal")

	v.SetDefault("log.level", "info")

	v.SetDefault("scan.fov.width_mm", planner.DefaultFOV.Width)
	v.SetDefault("scan.fov.height_mm", planner.DefaultFOV.Height)
	v.SetDefault("scan.max_points", planner.DefaultMaxPoints)

	v.SetDefault("motion.envelope.max_x", motion.DefaultEnvelope.MaxX)
	v.SetDefault("motion.envelope.max_y", motion.DefaultEnvelope.MaxY)

	v.SetDefault("camera.source", "synthetic")
	v.SetDefault("camera.device_id", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.frame_delay_ms", 30)
	v.SetDefault("camera.pixels_per_mm", 2)

	v.SetDefault("inference.mode", "simulated")
	v.SetDefault("inference.endpoint", "http://localhost:9090")
	v.SetDefault("inference.ng_probability", 0.3)
	v.SetDefault("inference.latency_ms", 500)
	v.SetDefault("inference.verdict_rule", inference.DefaultVerdictRule)

	v.SetDefault("orchestrator.feed_rate", 50.0)
	v.SetDefault("orchestrator.settle_ms", 200)
	v.SetDefault("orchestrator.inter_point_delay_ms", 500)
	v.SetDefault("orchestrator.flush_frames", 3)
}

// Validate 检查配置是否合法
func (c *Config) Validate() error {
	if c.Scan.FOV.Width <= 0 || c.Scan.FOV.Height <= 0 {
		return fmt.Errorf("scan.fov must be positive, got %gx%g", c.Scan.FOV.Width, c.Scan.FOV.Height)
	}
	if c.Scan.MaxPoints <= 0 || c.Scan.MaxPoints > planner.HardMaxPoints {
		return fmt.Errorf("scan.max_points must be within [1,%d], got %d", planner.HardMaxPoints, c.Scan.MaxPoints)
	}
	if c.Orchestrator.FeedRate < 0 {
		return fmt.Errorf("orchestrator.feed_rate must not be negative")
	}
	if c.Inference.NGProbability < 0 || c.Inference.NGProbability > 1 {
		return fmt.Errorf("inference.ng_probability must be within [0,1]")
	}
	return nil
}

// SlogLevel 把配置中的日志级别转换为 slog.Level，无法识别时为 Info
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
