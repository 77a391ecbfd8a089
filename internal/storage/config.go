package storage

// Backend names accepted in Config.Backend.
const (
	BackendLocal = "local"
	BackendAzure = "azure"
	BackendGCS   = "gcs"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend string      `yaml:"backend" json:"backend" env:"DOCHUB_STORAGE_BACKEND" validate:"omitempty,oneof=local azure gcs"`
	Root    string      `yaml:"root"    json:"root"    env:"DOCHUB_STORAGE_ROOT"    validate:"required_if=Backend local"`
	Azure   AzureConfig `yaml:"azure"   json:"-"`
	GCS     GCSConfig   `yaml:"gcs"     json:"-"`
}

// AzureConfig addresses a blob container. ConnectionString takes precedence;
// otherwise AccountURL is used with the default Azure credential chain.
type AzureConfig struct {
	ConnectionString string `yaml:"connection_string" env:"DOCHUB_AZURE_CONNECTION_STRING"`
	AccountURL       string `yaml:"account_url"       env:"DOCHUB_AZURE_ACCOUNT_URL"`
	Container        string `yaml:"container"         env:"DOCHUB_AZURE_CONTAINER"`
	Prefix           string `yaml:"prefix"            env:"DOCHUB_AZURE_PREFIX"`
}

// GCSConfig addresses a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"           env:"DOCHUB_GCS_BUCKET"`
	Prefix          string `yaml:"prefix"           env:"DOCHUB_GCS_PREFIX"`
	CredentialsFile string `yaml:"credentials_file" env:"DOCHUB_GCS_CREDENTIALS_FILE"`
}
