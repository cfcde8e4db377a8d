package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with defaults.
type Config struct {
	HTTPAddr  string
	JWTSecret string
	JWTExpiry time.Duration

	// 日志配置
	LogLevel      string
	LogPath       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool

	// 队列配置
	QueueBufferLength       int
	QueueMaxPlaylistLength  int
	QueueDefaultVolume      float64
	QueueInputBuffer        int
	QueueMetadataCacheSize  int
	QueueHydrateConcurrency int

	// 元数据提取器: netease / direct
	Extractor     string
	NeteaseAPIURL string

	// 解析结果在 Redis 中的缓存时间，0 表示不缓存
	MetadataCacheTTL time.Duration

	// 快照存储: redis / mysql
	SnapshotStore string
	SnapshotTTL   time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 快照归档
	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", "queuefm-dev-secret"),
		JWTExpiry: getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogPath:       getEnv("LOG_PATH", "logs/queuefm.log"),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),

		QueueBufferLength:       getEnvInt("QUEUE_BUFFER_LENGTH", 3),
		QueueMaxPlaylistLength:  getEnvInt("QUEUE_MAX_PLAYLIST_LENGTH", 1000),
		QueueDefaultVolume:      getEnvFloat("QUEUE_DEFAULT_VOLUME", 0.5),
		QueueInputBuffer:        getEnvInt("QUEUE_INPUT_BUFFER", 16),
		QueueMetadataCacheSize:  getEnvInt("QUEUE_METADATA_CACHE_SIZE", 512),
		QueueHydrateConcurrency: getEnvInt("QUEUE_HYDRATE_CONCURRENCY", 4),

		Extractor:     getEnv("EXTRACTOR", "netease"),
		NeteaseAPIURL: getEnv("NETEASE_API_URL", "http://localhost:3000"),

		MetadataCacheTTL: getEnvDuration("META_CACHE_TTL", 24*time.Hour),

		SnapshotStore: getEnv("SNAPSHOT_STORE", "redis"),
		SnapshotTTL:   getEnvDuration("SNAPSHOT_TTL", 7*24*time.Hour),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "queuefm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "queuefm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}
