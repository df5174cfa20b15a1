package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	JWT      JWTConfig
	Storage  StorageConfig
	S3       S3Config
	GCS      GCSConfig
	Redis    RedisConfig
	Log      LogConfig
	CORS     CORSConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
	Dedup    DedupConfig
	Convert  ConvertConfig
	Parse    ParseServiceConfig
	Extract  ExtractConfig
	Audit    AuditConfig
	LLM      LLMConfig
	Upload   UploadConfig
	Notify   NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Driver   string `mapstructure:"driver"` // postgres | memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// JWTConfig holds the settings used to verify API bearer tokens.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// StorageConfig selects the blob backend and its envelope options.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // local | s3 | gcs
	LocalRoot     string `mapstructure:"local_root"`
	EncryptionKey string `mapstructure:"encryption_key"` // hex, 32 bytes
	VerifyOnRead  bool   `mapstructure:"verify_on_read"`
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// RedisConfig holds the lock backend settings. An empty Addr selects in-process locks.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// QueueConfig holds ingest queue and worker pool settings.
type QueueConfig struct {
	Workers        int `mapstructure:"workers"`
	MaxDepth       int `mapstructure:"max_depth"`
	JobConcurrency int `mapstructure:"job_concurrency"`
}

// PipelineConfig holds per-stage deadlines and lock lifetimes.
type PipelineConfig struct {
	ConvertTimeout     time.Duration `mapstructure:"convert_timeout"`
	ParseSubmitTimeout time.Duration `mapstructure:"parse_submit_timeout"`
	ParseDeadline      time.Duration `mapstructure:"parse_deadline"`
	ExtractTimeout     time.Duration `mapstructure:"extract_timeout"`
	LLMTimeout         time.Duration `mapstructure:"llm_timeout"`
	RerunLockTTL       time.Duration `mapstructure:"rerun_lock_ttl"`
	CacheCooldown      time.Duration `mapstructure:"cache_cooldown"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// DedupConfig holds the dedup freshness window.
type DedupConfig struct {
	FreshnessHours int `mapstructure:"freshness_hours"`
}

// Window returns the freshness window as a duration.
func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.FreshnessHours) * time.Hour
}

// ConvertConfig holds format converter settings.
type ConvertConfig struct {
	SofficePath        string `mapstructure:"soffice_path"`
	ChromePath         string `mapstructure:"chrome_path"`
	OfficeRPCURL       string `mapstructure:"office_rpc_url"`
	WorkDir            string `mapstructure:"work_dir"`
	Concurrency        int    `mapstructure:"concurrency"`
	BrowserConcurrency int    `mapstructure:"browser_concurrency"`
}

// ParseServiceConfig holds remote parse service settings.
type ParseServiceConfig struct {
	URL             string `mapstructure:"url"`
	CallbackBaseURL string `mapstructure:"callback_base_url"`
	CallbackSecret  string `mapstructure:"callback_secret"`
	OCR             bool   `mapstructure:"ocr"`
}

// ExtractConfig holds extractor dispatcher settings.
type ExtractConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	EditMergeStrategy string `mapstructure:"edit_merge_strategy"` // reapply | discard
}

// AuditConfig holds auditor dispatcher settings.
type AuditConfig struct {
	PresetEnabled bool `mapstructure:"preset_enabled"`
}

// LLMProviderConfig holds settings for a single LLM provider.
type LLMProviderConfig struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
	MaxRetries   int    `mapstructure:"max_retries"`
	TimeoutSecs  int    `mapstructure:"timeout_secs"`
}

// LLMConfig holds the ordered LLM provider chain used by remote extraction and judging.
type LLMConfig struct {
	Primary   LLMProviderConfig `mapstructure:"primary"`
	Secondary LLMProviderConfig `mapstructure:"secondary"`
	Tertiary  LLMProviderConfig `mapstructure:"tertiary"`
}

// Chain returns the configured providers in fallback order.
func (l *LLMConfig) Chain() []*LLMProviderConfig {
	var out []*LLMProviderConfig
	for _, p := range []*LLMProviderConfig{&l.Primary, &l.Secondary, &l.Tertiary} {
		if p.Provider != "" {
			out = append(out, p)
		}
	}
	return out
}

// UploadConfig holds intake limits and policies.
type UploadConfig struct {
	MaxFileSizeMB       int64         `mapstructure:"max_file_size_mb"`
	DuplicateNamePolicy string        `mapstructure:"duplicate_name_policy"` // reject | allow
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
}

// MaxBytes returns the size limit in bytes.
func (u UploadConfig) MaxBytes() int64 {
	return u.MaxFileSizeMB << 20
}

// NotifyConfig holds failure notification settings.
type NotifyConfig struct {
	Provider    string `mapstructure:"provider"` // noop | webhook | ses
	Region      string `mapstructure:"region"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
}

// Load reads configuration from an optional .env file and environment
// variables with the DOCPIPE_ prefix.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DOCPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range envBindings() {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("DOCPIPE_SERVER_PORT") == "" {
		serverPort = ":" + port
	}
	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Driver:   v.GetString("db.driver"),
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.JWT = JWTConfig{
		Secret: v.GetString("jwt.secret"),
		Issuer: v.GetString("jwt.issuer"),
	}
	cfg.Storage = StorageConfig{
		Backend:       v.GetString("storage.backend"),
		LocalRoot:     v.GetString("storage.local_root"),
		EncryptionKey: v.GetString("storage.encryption_key"),
		VerifyOnRead:  v.GetBool("storage.verify_on_read"),
	}
	cfg.S3 = S3Config{
		Region:    v.GetString("s3.region"),
		Bucket:    v.GetString("s3.bucket"),
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
	}
	cfg.GCS = GCSConfig{
		Bucket:          v.GetString("gcs.bucket"),
		CredentialsFile: v.GetString("gcs.credentials_file"),
	}
	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}

	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{AllowedOrigins: corsOrigins}

	cfg.Queue = QueueConfig{
		Workers:        v.GetInt("queue.workers"),
		MaxDepth:       v.GetInt("queue.max_depth"),
		JobConcurrency: v.GetInt("queue.job_concurrency"),
	}
	cfg.Pipeline = PipelineConfig{
		ConvertTimeout:     v.GetDuration("pipeline.convert_timeout"),
		ParseSubmitTimeout: v.GetDuration("pipeline.parse_submit_timeout"),
		ParseDeadline:      v.GetDuration("pipeline.parse_deadline"),
		ExtractTimeout:     v.GetDuration("pipeline.extract_timeout"),
		LLMTimeout:         v.GetDuration("pipeline.llm_timeout"),
		RerunLockTTL:       v.GetDuration("pipeline.rerun_lock_ttl"),
		CacheCooldown:      v.GetDuration("pipeline.cache_cooldown"),
		SweepInterval:      v.GetDuration("pipeline.sweep_interval"),
	}
	cfg.Dedup = DedupConfig{FreshnessHours: v.GetInt("dedup.freshness_hours")}
	cfg.Convert = ConvertConfig{
		SofficePath:        v.GetString("convert.soffice_path"),
		ChromePath:         v.GetString("convert.chrome_path"),
		OfficeRPCURL:       v.GetString("convert.office_rpc_url"),
		WorkDir:            v.GetString("convert.work_dir"),
		Concurrency:        v.GetInt("convert.concurrency"),
		BrowserConcurrency: v.GetInt("convert.browser_concurrency"),
	}
	cfg.Parse = ParseServiceConfig{
		URL:             v.GetString("parse.url"),
		CallbackBaseURL: v.GetString("parse.callback_base_url"),
		CallbackSecret:  v.GetString("parse.callback_secret"),
		OCR:             v.GetBool("parse.ocr"),
	}
	cfg.Extract = ExtractConfig{
		Concurrency:       v.GetInt("extract.concurrency"),
		EditMergeStrategy: v.GetString("extract.edit_merge_strategy"),
	}
	cfg.Audit = AuditConfig{PresetEnabled: v.GetBool("audit.preset_enabled")}
	cfg.LLM = LLMConfig{
		Primary:   providerConfig(v, "llm.primary"),
		Secondary: providerConfig(v, "llm.secondary"),
		Tertiary:  providerConfig(v, "llm.tertiary"),
	}
	cfg.Upload = UploadConfig{
		MaxFileSizeMB:       v.GetInt64("upload.max_file_size_mb"),
		DuplicateNamePolicy: v.GetString("upload.duplicate_name_policy"),
		FetchTimeout:        v.GetDuration("upload.fetch_timeout"),
	}
	cfg.Notify = NotifyConfig{
		Provider:    v.GetString("notify.provider"),
		Region:      v.GetString("notify.region"),
		FromAddress: v.GetString("notify.from_address"),
		FromName:    v.GetString("notify.from_name"),
	}

	return cfg, nil
}

func providerConfig(v *viper.Viper, prefix string) LLMProviderConfig {
	return LLMProviderConfig{
		Provider:     v.GetString(prefix + ".provider"),
		APIKey:       v.GetString(prefix + ".api_key"),
		DefaultModel: v.GetString(prefix + ".default_model"),
		MaxRetries:   v.GetInt(prefix + ".max_retries"),
		TimeoutSecs:  v.GetInt(prefix + ".timeout_secs"),
	}
}

var defaults = map[string]any{
	"server.port":          ":8080",
	"server.read_timeout":  "30s",
	"server.write_timeout": "120s",
	"server.environment":   "development",

	"db.driver":   "postgres",
	"db.host":     "localhost",
	"db.port":     5432,
	"db.user":     "docpipe",
	"db.password": "docpipe_secret",
	"db.name":     "docpipe_db",
	"db.sslmode":  "disable",
	"db.max_open": 25,
	"db.max_idle": 10,

	"jwt.secret": "change-me-in-production",
	"jwt.issuer": "docpipe",

	"storage.backend":        "local",
	"storage.local_root":     "./data/blobs",
	"storage.encryption_key": "",
	"storage.verify_on_read": false,

	"s3.region":   "us-east-1",
	"s3.bucket":   "docpipe-blobs",
	"s3.endpoint": "",

	"gcs.bucket":           "docpipe-blobs",
	"gcs.credentials_file": "",

	"redis.addr": "",
	"redis.db":   0,

	"log.level":  "debug",
	"log.format": "console",

	"cors.allowed_origins": "http://localhost:3000,http://127.0.0.1:3000",

	"queue.workers":         4,
	"queue.max_depth":       1000,
	"queue.job_concurrency": 8,

	"pipeline.convert_timeout":      "5m",
	"pipeline.parse_submit_timeout": "2m",
	"pipeline.parse_deadline":       "30m",
	"pipeline.extract_timeout":      "10m",
	"pipeline.llm_timeout":          "3m",
	"pipeline.rerun_lock_ttl":       "60s",
	"pipeline.cache_cooldown":       "30s",
	"pipeline.sweep_interval":       "1m",

	"dedup.freshness_hours": 24,

	"convert.soffice_path":        "soffice",
	"convert.chrome_path":         "chromium",
	"convert.office_rpc_url":      "",
	"convert.work_dir":            "",
	"convert.concurrency":         2,
	"convert.browser_concurrency": 2,

	"parse.url":               "http://localhost:9000/api/parse",
	"parse.callback_base_url": "http://localhost:8080",
	"parse.callback_secret":   "change-me-in-production",
	"parse.ocr":               false,

	"extract.concurrency":         4,
	"extract.edit_merge_strategy": "reapply",

	"audit.preset_enabled": false,

	"llm.primary.provider":       "",
	"llm.primary.max_retries":    2,
	"llm.primary.timeout_secs":   120,
	"llm.secondary.provider":     "",
	"llm.secondary.max_retries":  2,
	"llm.secondary.timeout_secs": 120,
	"llm.tertiary.provider":      "",
	"llm.tertiary.max_retries":   2,
	"llm.tertiary.timeout_secs":  120,

	"upload.max_file_size_mb":      100,
	"upload.duplicate_name_policy": "allow",
	"upload.fetch_timeout":         "60s",

	"notify.provider":     "noop",
	"notify.region":       "us-east-1",
	"notify.from_address": "noreply@docpipe.local",
	"notify.from_name":    "docpipe",
}

func setDefaults(v *viper.Viper) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
}

// envBindings maps every nested key to its DOCPIPE_ variable, including the
// keys without defaults (secrets and provider credentials).
func envBindings() map[string]string {
	keys := make([]string, 0, len(defaults)+8)
	for key := range defaults {
		keys = append(keys, key)
	}
	keys = append(keys,
		"s3.access_key", "s3.secret_key", "redis.password",
		"llm.primary.api_key", "llm.primary.default_model",
		"llm.secondary.api_key", "llm.secondary.default_model",
		"llm.tertiary.api_key", "llm.tertiary.default_model",
	)
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[key] = "DOCPIPE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	}
	return out
}
