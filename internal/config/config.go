package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/eargollo/dochub/internal/classify"
	"github.com/eargollo/dochub/internal/fingerprint"
	"github.com/eargollo/dochub/internal/storage"
)

// Config holds all configuration loaded from config.yaml and DOCHUB_*
// environment variables.
type Config struct {
	Storage     storage.Config    `yaml:"storage"       json:"storage"`
	DBPath      string            `yaml:"db_path"       json:"-"         env:"DOCHUB_DB_PATH"`
	HTTPAddr    string            `yaml:"http_addr"     json:"-"         env:"DOCHUB_HTTP_ADDR"`
	LogLevel    string            `yaml:"log_level"     json:"-"         env:"DOCHUB_LOG_LEVEL"     validate:"omitempty,oneof=debug info warn warning error"`
	MaxUploadMB int               `yaml:"max_upload_mb" json:"max_upload_mb" env:"DOCHUB_MAX_UPLOAD_MB" validate:"gte=0"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"     json:"reconcile"`
	Classify    ClassifyConfig    `yaml:"classify"      json:"classify"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"   json:"fingerprint"`
	Trash       TrashConfig       `yaml:"trash"         json:"trash"`
	Records     RecordsConfig     `yaml:"records"       json:"records"`
}

// ReconcileConfig tunes journal reconciliation.
type ReconcileConfig struct {
	Schedule        string `yaml:"schedule"         json:"schedule"         env:"DOCHUB_RECONCILE_SCHEDULE"`
	HashFiles       *bool  `yaml:"hash_files"       json:"hash_files"`
	Hashers         int    `yaml:"hashers"          json:"hashers"          env:"DOCHUB_RECONCILE_HASHERS"         validate:"gte=0,lte=64"`
	BackupRetention int    `yaml:"backup_retention" json:"backup_retention" env:"DOCHUB_RECONCILE_BACKUP_RETENTION" validate:"gte=0"`
}

// ClassifyConfig tunes duplicate detection.
type ClassifyConfig struct {
	Visual     *bool               `yaml:"visual"     json:"visual"`
	Thresholds classify.Thresholds `yaml:"thresholds" json:"thresholds"`
}

// FingerprintConfig tunes fingerprint generation.
type FingerprintConfig struct {
	RenderFirstPage *bool `yaml:"render_first_page" json:"render_first_page"`
	RenderDPI       int   `yaml:"render_dpi"        json:"render_dpi"        env:"DOCHUB_FINGERPRINT_DPI"       validate:"gte=0,lte=600"`
	MaxPDFPages     int   `yaml:"max_pdf_pages"     json:"max_pdf_pages"     env:"DOCHUB_FINGERPRINT_MAX_PAGES" validate:"gte=0,lte=50"`
}

// TrashConfig controls how long replaced documents are kept.
type TrashConfig struct {
	RetentionDays int `yaml:"retention_days" json:"retention_days" env:"DOCHUB_TRASH_RETENTION_DAYS" validate:"gte=0"`
}

// RecordsConfig optionally imports known-valid batch ids at startup.
type RecordsConfig struct {
	XLSXPath   string `yaml:"xlsx_path"   json:"xlsx_path"   env:"DOCHUB_RECORDS_XLSX"`
	Sheet      string `yaml:"sheet"       json:"sheet"`
	Column     int    `yaml:"column"      json:"column"      validate:"gte=0"`
	HeaderRows int    `yaml:"header_rows" json:"header_rows" validate:"gte=0"`
}

// Enabled reports whether an optional switch is on; unset means on.
func Enabled(b *bool) bool { return b == nil || *b }

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendLocal
	}
	if c.Storage.Backend == storage.BackendLocal && c.Storage.Root == "" {
		c.Storage.Root = "/data/documents"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/dochub.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = 64
	}
	if c.Reconcile.Hashers == 0 {
		c.Reconcile.Hashers = 4
	}
	if c.Reconcile.BackupRetention == 0 {
		c.Reconcile.BackupRetention = 10
	}
	def := classify.DefaultThresholds()
	th := &c.Classify.Thresholds
	if th.HashExactConfidence == 0 {
		th.HashExactConfidence = def.HashExactConfidence
	}
	if th.NameSizeConfidence == 0 {
		th.NameSizeConfidence = def.NameSizeConfidence
	}
	if th.MinSizeSimilarity == 0 {
		th.MinSizeSimilarity = def.MinSizeSimilarity
	}
	if th.MinNameRatio == 0 {
		th.MinNameRatio = def.MinNameRatio
	}
	if th.MinNameOnly == 0 {
		th.MinNameOnly = def.MinNameOnly
	}
	if th.NameOnlyConfidence == 0 {
		th.NameOnlyConfidence = def.NameOnlyConfidence
	}
	if th.MinVisual == 0 {
		th.MinVisual = def.MinVisual
	}
	if c.Fingerprint.RenderDPI == 0 {
		c.Fingerprint.RenderDPI = 36
	}
	if c.Fingerprint.MaxPDFPages == 0 {
		c.Fingerprint.MaxPDFPages = fingerprint.DefaultMaxPDFPages
	}
	if c.Trash.RetentionDays == 0 {
		c.Trash.RetentionDays = 30
	}
	if c.Records.Column == 0 {
		c.Records.Column = 1
	}
}

// Load reads and parses the YAML config file at path, overlays DOCHUB_*
// environment variables, applies defaults and validates the result.
// If the file does not exist, Load starts from an empty Config so the server
// can run without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("open config %q: %w", path, err)
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and backend-specific requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, ve := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", ve.Namespace(), ve.Tag()))
			}
			sort.Strings(msgs)
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	switch c.Storage.Backend {
	case storage.BackendAzure:
		if c.Storage.Azure.Container == "" {
			return errors.New("invalid configuration: storage.azure.container is required")
		}
		if c.Storage.Azure.ConnectionString == "" && c.Storage.Azure.AccountURL == "" {
			return errors.New("invalid configuration: storage.azure needs connection_string or account_url")
		}
	case storage.BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return errors.New("invalid configuration: storage.gcs.bucket is required")
		}
	}
	return nil
}

// MaxUploadBytes is the request size limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
