package filestore

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderMinIO Provider = "minio"
)

// Config holds all settings needed to reach the store that holds a
// table's bulk data files.
type Config struct {
	// Provider is the storage backend. Empty means ProviderLocal.
	Provider Provider `yaml:"provider"`

	// Root is the directory data files are read from (ProviderLocal).
	// Relative keys are resolved against it.
	Root string `yaml:"root"`

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string `yaml:"endpoint"`

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string `yaml:"access_key"`

	// SecretKey is the secret access key.
	SecretKey string `yaml:"secret_key"`

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool `yaml:"use_ssl"`

	// Region is used by region-aware backends. Leave empty for MinIO.
	Region string `yaml:"region"`

	// Bucket holds the data files. For ProviderLocal it is an optional
	// subdirectory of Root.
	Bucket string `yaml:"bucket"`
}

// DefaultConfig returns a config that reads data files from dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Provider: ProviderLocal,
		Root:     dir,
	}
}

// MinIOConfig returns a sensible local-dev config for MinIO.
func MinIOConfig(endpoint, accessKey, secretKey, bucket string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		UseSSL:    false,
	}
}
