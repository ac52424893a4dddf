package config

import "time"

// Store and blob drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// TeamupConfig holds runtime configuration for the teamup server.
type TeamupConfig struct {
	Environment string
	Addr        string
	LogLevel    string

	StoreDriver   string
	DatabaseURL   string
	MigrationsDir string
	NotifyChannel string

	JWTSecret      string
	AccessTokenTTL time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DirectoryCacheTTL time.Duration

	BlobDriver      string
	BlobBaseURL     string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string
	S3PathStyle     bool
	MaxUploadBytes  int64

	WatchHeartbeat time.Duration
}

// LoadTeamupConfig constructs a TeamupConfig from environment variables.
func LoadTeamupConfig() TeamupConfig {
	return TeamupConfig{
		Environment:       GetString("APP_ENV", "development"),
		Addr:              GetString("TEAMUP_ADDR", ":8080"),
		LogLevel:          GetString("LOG_LEVEL", "info"),
		StoreDriver:       GetString("STORE_DRIVER", DriverMemory),
		DatabaseURL:       GetString("DATABASE_URL", "postgres://teamup:teamup@db:5432/teamup?sslmode=disable"),
		MigrationsDir:     GetString("DB_MIGRATIONS_DIR", ""),
		NotifyChannel:     GetString("PG_NOTIFY_CHANNEL", "tree_changes"),
		JWTSecret:         GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:    GetDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		RedisAddr:         GetString("REDIS_ADDR", ""),
		RedisPassword:     GetString("REDIS_PASSWORD", ""),
		RedisDB:           GetInt("REDIS_DB", 0),
		DirectoryCacheTTL: GetDuration("DIRECTORY_CACHE_TTL", 10*time.Minute),
		BlobDriver:        GetString("BLOB_DRIVER", DriverMemory),
		BlobBaseURL:       GetString("BLOB_BASE_URL", "http://localhost:8080/blobs"),
		S3Bucket:          GetString("S3_BUCKET", "file-storage"),
		S3Region:          GetString("S3_REGION", ""),
		S3Endpoint:        GetString("S3_ENDPOINT", ""),
		S3AccessKey:       GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:       GetString("S3_SECRET_KEY", ""),
		S3PublicBaseURL:   GetString("S3_PUBLIC_BASE_URL", ""),
		S3PathStyle:       GetBool("S3_PATH_STYLE", false),
		MaxUploadBytes:    GetInt64("MAX_UPLOAD_BYTES", 10<<20),
		WatchHeartbeat:    GetDuration("WATCH_HEARTBEAT", 25*time.Second),
	}
}
