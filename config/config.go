package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Splitter  SplitterConfig  `mapstructure:"splitter"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Query     QueryConfig     `mapstructure:"query"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`          // 服务器主机
	Port         int           `mapstructure:"port"`          // 服务器端口
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写超时
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"` // 上传文件大小上限
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // 允许的前端来源
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`        // 日志级别
	Format     string `mapstructure:"format"`       // 输出格式：json 或 text
	File       string `mapstructure:"file"`         // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups"`  // 保留的旧日志文件数
	MaxAgeDays int    `mapstructure:"max_age_days"` // 旧日志保留天数
}

// SplitterConfig 文本切分配置
type SplitterConfig struct {
	ChunkSize    int      `mapstructure:"chunk_size"`    // 分块大小(字符)
	ChunkOverlap int      `mapstructure:"chunk_overlap"` // 分块重叠大小(字符)
	Separators   []string `mapstructure:"separators"`    // 分隔符，由粗到细
}

// IngestConfig 入库配置
type IngestConfig struct {
	Collection string `mapstructure:"collection"` // 向量集合名称
	Distance   string `mapstructure:"distance"`   // 距离度量方式：cosine, l2, dot
	BatchSize  int    `mapstructure:"batch_size"` // 嵌入和写入批大小
	Workers    int    `mapstructure:"workers"`    // 并行切分的页数
}

// EmbeddingConfig 向量嵌入模型配置
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`    // 提供商：tongyi, gemini, hash
	Model      string        `mapstructure:"model"`       // 模型名称
	APIKey     string        `mapstructure:"api_key"`     // API密钥
	BaseURL    string        `mapstructure:"base_url"`    // API端点
	Dimensions int           `mapstructure:"dimensions"`  // 向量维度
	BatchSize  int           `mapstructure:"batch_size"`  // 单次请求文本数
	Timeout    time.Duration `mapstructure:"timeout"`     // 请求超时
	MaxRetries int           `mapstructure:"max_retries"` // 最大重试次数
	Cache      bool          `mapstructure:"cache"`       // 是否缓存向量
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type    string        `mapstructure:"type"`    // 向量数据库类型：memory, qdrant, pgvector
	URL     string        `mapstructure:"url"`     // Qdrant地址
	APIKey  string        `mapstructure:"api_key"` // Qdrant API密钥
	DSN     string        `mapstructure:"dsn"`     // PostgreSQL连接串
	Timeout time.Duration `mapstructure:"timeout"` // 请求超时
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`    // 提供商：gemini, tongyi
	Model       string        `mapstructure:"model"`       // 模型名称
	APIKey      string        `mapstructure:"api_key"`     // API密钥
	BaseURL     string        `mapstructure:"base_url"`    // API端点
	MaxTokens   int           `mapstructure:"max_tokens"`  // 最大生成token数量
	Temperature float32       `mapstructure:"temperature"` // 采样温度
	Timeout     time.Duration `mapstructure:"timeout"`     // 请求超时
}

// QueryConfig 问答配置
type QueryConfig struct {
	TopK            int    `mapstructure:"top_k"`            // 检索片段数
	DocumentSummary string `mapstructure:"document_summary"` // 路由使用的知识库摘要
	CacheAnswers    bool   `mapstructure:"cache_answers"`    // 是否缓存回答
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`       // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`       // 本地存储路径
	Bucket    string `mapstructure:"bucket"`     // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"`   // MinIO端点
	AccessKey string `mapstructure:"access_key"` // MinIO访问密钥
	SecretKey string `mapstructure:"secret_key"` // MinIO私有密钥
	UseSSL    bool   `mapstructure:"use_ssl"`    // 是否使用SSL
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type     string        `mapstructure:"type"`     // 缓存类型：memory 或 redis
	Address  string        `mapstructure:"address"`  // Redis地址
	Password string        `mapstructure:"password"` // Redis密码
	DB       int           `mapstructure:"db"`       // Redis数据库
	TTL      time.Duration `mapstructure:"ttl"`      // 缓存过期时间
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // SQLite数据库文件
}

// Address 返回服务监听地址
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load 从文件和环境变量加载配置
// 先加载.env，配置文件不存在时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.WithField("file", v.ConfigFileUsed()).Debug("Using config file")
	} else {
		logrus.WithField("file", configPath).Debug("Config file not found, using defaults")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&config)
	return &config, nil
}

// processEnvironmentVariables 展开形如${VAR}的配置值
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Embedding.APIKey,
		&cfg.LLM.APIKey,
		&cfg.VectorDB.APIKey,
		&cfg.VectorDB.URL,
		&cfg.VectorDB.DSN,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv 整个值为${VAR}时替换为环境变量，变量未设置时保持原样
func expandEnv(value string) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
		return envVal
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.max_upload_mb", 50)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// 文本切分默认配置
	v.SetDefault("splitter.chunk_size", 1000)
	v.SetDefault("splitter.chunk_overlap", 200)
	v.SetDefault("splitter.separators", []string{"\n\n", "\n", ". ", " ", ""})

	v.SetDefault("ingest.collection", "agni_rag_documents")
	v.SetDefault("ingest.distance", "cosine")
	v.SetDefault("ingest.batch_size", 16)
	v.SetDefault("ingest.workers", 4)

	// Embedding默认配置
	v.SetDefault("embedding.provider", "tongyi")
	v.SetDefault("embedding.model", "text-embedding-v3")
	v.SetDefault("embedding.api_key", "${DASHSCOPE_API_KEY}")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.cache", true)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "qdrant")
	v.SetDefault("vectordb.url", "${QDRANT_URL}")
	v.SetDefault("vectordb.api_key", "${QDRANT_API_KEY}")
	v.SetDefault("vectordb.timeout", "30s")

	// LLM默认配置
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_key", "${GOOGLE_API_KEY}")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")

	v.SetDefault("query.top_k", 5)
	v.SetDefault("query.document_summary", "research paper content related or finance related content")
	v.SetDefault("query.cache_answers", true)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "data/uploads")
	v.SetDefault("storage.bucket", "agni")
	v.SetDefault("storage.use_ssl", false)

	// 缓存默认配置
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.ttl", "1h")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)

	v.SetDefault("database.dsn", "data/agni.db")
}
