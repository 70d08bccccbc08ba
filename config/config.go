package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Models    ModelsConfig    `mapstructure:"models"`
	Saliency  SaliencyConfig  `mapstructure:"saliency"`
	Explainer ExplainerConfig `mapstructure:"explainer"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	UploadDir    string   `mapstructure:"upload_dir"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type PipelineConfig struct {
	MaxConcurrent    int    `mapstructure:"max_concurrent"`
	QueueTimeout     int    `mapstructure:"queue_timeout"`
	CleanupTempFiles bool   `mapstructure:"cleanup_temp_files"`
	OutputDir        string `mapstructure:"output_dir"`
	DefaultModel     string `mapstructure:"default_model"`
	// SaveOriginal 同时保存上传的原图
	SaveOriginal bool `mapstructure:"save_original"`
}

type ModelsConfig struct {
	Dir            string `mapstructure:"dir"`
	OnnxRuntimeLib string `mapstructure:"onnxruntime_lib"`
	// Preload 启动时预加载的模型
	Preload []string `mapstructure:"preload"`
}

// SaliencyConfig 显著图流水线的可调常量
type SaliencyConfig struct {
	Percentile    float64 `mapstructure:"percentile"`
	BlurKernel    int     `mapstructure:"blur_kernel"`
	HeatmapWeight float64 `mapstructure:"heatmap_weight"`
	ImageWeight   float64 `mapstructure:"image_weight"`
	MaskOffset    float64 `mapstructure:"mask_offset"`
	MinMaskRadius float64 `mapstructure:"min_mask_radius"`
	ColorMap      string  `mapstructure:"colormap"`
}

type ExplainerConfig struct {
	Provider     string        `mapstructure:"provider"`
	Host         string        `mapstructure:"host"`
	Model        string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxSentences int           `mapstructure:"max_sentences"`
	Placeholder  string        `mapstructure:"placeholder"`
}

type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// EnvPrefix 环境变量前缀，例如 TUMORSCAN_SERVER_PORT
const EnvPrefix = "TUMORSCAN"

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	bindEnv(v)

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，使用默认值 + 环境变量
		return fromEnv()
	}
	return cfg
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func fromEnv() *Config {
	v := viper.New()
	bindEnv(v)
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return getDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return getDefaultConfig()
	}
	return &cfg
}

// Validate 校验显著图常量与并发参数
func (c *Config) Validate() error {
	s := c.Saliency
	if s.Percentile < 0 || s.Percentile > 100 {
		return fmt.Errorf("saliency.percentile must be within [0,100], got %v", s.Percentile)
	}
	if s.BlurKernel < 1 || s.BlurKernel%2 == 0 {
		return fmt.Errorf("saliency.blur_kernel must be a positive odd number, got %d", s.BlurKernel)
	}
	if s.HeatmapWeight < 0 || s.ImageWeight < 0 {
		return fmt.Errorf("saliency blend weights must be non-negative")
	}
	if s.MinMaskRadius < 1 {
		return fmt.Errorf("saliency.min_mask_radius must be >= 1, got %v", s.MinMaskRadius)
	}
	if c.Pipeline.MaxConcurrent < 1 {
		return fmt.Errorf("pipeline.max_concurrent must be >= 1, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Pipeline.OutputDir == "" {
		return fmt.Errorf("pipeline.output_dir must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.upload_dir", d.Upload.UploadDir)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
	v.SetDefault("pipeline.cleanup_temp_files", d.Pipeline.CleanupTempFiles)
	v.SetDefault("pipeline.output_dir", d.Pipeline.OutputDir)
	v.SetDefault("pipeline.default_model", d.Pipeline.DefaultModel)
	v.SetDefault("pipeline.save_original", d.Pipeline.SaveOriginal)

	v.SetDefault("models.dir", d.Models.Dir)
	v.SetDefault("models.onnxruntime_lib", d.Models.OnnxRuntimeLib)
	v.SetDefault("models.preload", d.Models.Preload)

	v.SetDefault("saliency.percentile", d.Saliency.Percentile)
	v.SetDefault("saliency.blur_kernel", d.Saliency.BlurKernel)
	v.SetDefault("saliency.heatmap_weight", d.Saliency.HeatmapWeight)
	v.SetDefault("saliency.image_weight", d.Saliency.ImageWeight)
	v.SetDefault("saliency.mask_offset", d.Saliency.MaskOffset)
	v.SetDefault("saliency.min_mask_radius", d.Saliency.MinMaskRadius)
	v.SetDefault("saliency.colormap", d.Saliency.ColorMap)

	v.SetDefault("explainer.provider", d.Explainer.Provider)
	v.SetDefault("explainer.host", d.Explainer.Host)
	v.SetDefault("explainer.model", d.Explainer.Model)
	v.SetDefault("explainer.timeout", d.Explainer.Timeout)
	v.SetDefault("explainer.max_sentences", d.Explainer.MaxSentences)
	v.SetDefault("explainer.placeholder", d.Explainer.Placeholder)

	v.SetDefault("storage.s3.enabled", d.Storage.S3.Enabled)
	v.SetDefault("storage.s3.bucket", d.Storage.S3.Bucket)
	v.SetDefault("storage.s3.region", d.Storage.S3.Region)
	v.SetDefault("storage.s3.endpoint", d.Storage.S3.Endpoint)
	v.SetDefault("storage.s3.prefix", d.Storage.S3.Prefix)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			UploadDir:    "./uploads",
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:    2,
			QueueTimeout:     30,
			CleanupTempFiles: true,
			OutputDir:        "./saliency_maps",
			DefaultModel:     "xception",
			SaveOriginal:     true,
		},
		Models: ModelsConfig{
			Dir: "./models",
		},
		Saliency: SaliencyConfig{
			Percentile:    80,
			BlurKernel:    11,
			HeatmapWeight: 0.7,
			ImageWeight:   0.3,
			MaskOffset:    10,
			MinMaskRadius: 1,
			ColorMap:      "jet",
		},
		Explainer: ExplainerConfig{
			Provider:     "ollama",
			Host:         "http://localhost:11434",
			Model:        "llava",
			Timeout:      60 * time.Second,
			MaxSentences: 4,
			Placeholder:  "Explanation unavailable.",
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "saliency_maps/",
			},
		},
	}
}

// Default 返回内置默认配置
func Default() *Config {
	return getDefaultConfig()
}
