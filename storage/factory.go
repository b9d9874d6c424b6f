package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ruteri/treasury-vault/interfaces"
	"github.com/ruteri/treasury-vault/sqlitedb"
)

// StorageBackendFactory creates record backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log *slog.Logger
	// db is shared by every sqlite:// backend and by other SQLite-backed components.
	db *sqlitedb.DB
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
// If db is provided, sqlite:// URIs reuse it instead of opening their own file.
func NewStorageBackendFactory(logger *slog.Logger, db *sqlitedb.DB) *StorageBackendFactory {
	return &StorageBackendFactory{
		log: logger,
		db:  db,
	}
}

// StorageBackendFor creates a record backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local directory of <account>.vault files
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2 engine
//   - sqlite:// - Table in the shared SQLite database
//   - memory:// - Process memory, for tests and dry runs
//
// A comma-separated list creates a MultiStorageBackend.
func (sf *StorageBackendFactory) StorageBackendFor(locationURI string) (interfaces.RecordBackend, error) {
	if strings.Contains(locationURI, ",") {
		return sf.CreateMultiBackend(strings.Split(locationURI, ","))
	}

	u, err := url.Parse(strings.TrimSpace(locationURI))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return sf.createFileBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	case "vault":
		return sf.createVaultBackend(u)
	case "sqlite":
		return sf.createSQLiteBackend(u)
	case "memory":
		return NewMemoryBackend(u.Host), nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of location URIs.
// Returns an error if any URI is invalid. Silently dropping a replica would weaken durability.
func (sf *StorageBackendFactory) CreateMultiBackend(locationURIs []string) (interfaces.RecordBackend, error) {
	backends := make([]interfaces.RecordBackend, 0, len(locationURIs))

	for _, uri := range locationURIs {
		uri = strings.TrimSpace(uri)
		if uri == "" {
			continue
		}
		backend, err := sf.StorageBackendFor(uri)
		if err != nil {
			sf.log.Error("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", uri))
			return nil, err
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no storage backends configured", interfaces.ErrInvalidLocationURI)
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(u *url.URL) (interfaces.RecordBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}

	return NewFileBackend(path, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
// Without embedded credentials the default AWS credential chain is used.
func (sf *StorageBackendFactory) createS3Backend(u *url.URL) (interfaces.RecordBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(u.Host, strings.Trim(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, sf.log)
}

// createVaultBackend creates a HashiCorp Vault storage backend.
// URI format: vault://host:port/mount/path?tls=true&ca=/path/ca.pem&cert=...&key=...&timeout=10s
// The token is taken from the URI user info or the VAULT_TOKEN environment variable.
func (sf *StorageBackendFactory) createVaultBackend(u *url.URL) (interfaces.RecordBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("host", u.Host))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if u.Host == "" || len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected vault://host:port/mount/path", interfaces.ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}

	cfg := VaultConfig{
		Address:    fmt.Sprintf("%s://%s", scheme, u.Host),
		MountPath:  parts[0],
		DataPath:   parts[1],
		Token:      os.Getenv("VAULT_TOKEN"),
		CACert:     query.Get("ca"),
		ClientCert: query.Get("cert"),
		ClientKey:  query.Get("key"),
	}
	if u.User != nil && u.User.Username() != "" {
		cfg.Token = u.User.Username()
	}
	if t := query.Get("timeout"); t != "" {
		timeout, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout: %v", interfaces.ErrInvalidLocationURI, err)
		}
		cfg.Timeout = timeout
	}

	return NewVaultBackend(cfg, sf.log)
}

// createSQLiteBackend creates a backend on the shared database, or opens the database at the URI path.
// URI format: sqlite:///path/to/treasury.db
func (sf *StorageBackendFactory) createSQLiteBackend(u *url.URL) (interfaces.RecordBackend, error) {
	db := sf.db
	path := u.Host + u.Path
	if db == nil || (path != "" && path != db.Path()) {
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in sqlite URI", interfaces.ErrInvalidLocationURI)
		}
		opened, err := sqlitedb.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		db = opened
	}

	return NewSQLiteBackend(db, sf.log), nil
}
