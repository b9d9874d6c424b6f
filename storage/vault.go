package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/treasury-vault/interfaces"
)

// VaultBackend implements a record backend using the HashiCorp Vault KV v2 engine.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// VaultConfig holds the connection parameters of a Vault backend.
type VaultConfig struct {
	// Address is the Vault server address (e.g. https://vault.example.com:8200)
	Address string
	// MountPath is the KV v2 mount (e.g. "secret")
	MountPath string
	// DataPath is the path within the mount (e.g. "treasury")
	DataPath string
	// Token authenticates requests. Falls back to VAULT_TOKEN when empty.
	Token string
	// CACert, ClientCert and ClientKey are optional PEM file paths for TLS.
	CACert     string
	ClientCert string
	ClientKey  string
	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// NewVaultBackend creates a new Vault record backend.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = cfg.Address
	if cfg.Timeout > 0 {
		config.Timeout = cfg.Timeout
	}

	if cfg.CACert != "" || cfg.ClientCert != "" {
		if err := config.ConfigureTLS(&api.TLSConfig{
			CACert:     cfg.CACert,
			ClientCert: cfg.ClientCert,
			ClientKey:  cfg.ClientKey,
		}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return newVaultBackendWithClient(client, cfg.MountPath, cfg.DataPath, log), nil
}

func newVaultBackendWithClient(client *api.Client, mountPath, dataPath string, log *slog.Logger) *VaultBackend {
	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", client.Address(), mountPath, dataPath),
	}
}

// Fetch retrieves the record of an account from Vault.
func (b *VaultBackend) Fetch(ctx context.Context, account interfaces.AccountID) ([]byte, error) {
	start := time.Now()
	if err := account.Validate(); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, account)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrCredentialNotFound
	}

	// KV v2 returns a nil "data" for soft-deleted versions
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok || data == nil {
		return nil, interfaces.ErrCredentialNotFound
	}

	content, ok := data["record"].(string)
	if !ok {
		return nil, fmt.Errorf("record key not found in Vault data at %s", path)
	}

	record, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("invalid record encoding in Vault data: %w", err)
	}

	b.log.Debug("Fetched record from Vault",
		slog.String("account", account.String()),
		slog.Duration("duration", time.Since(start)))

	return record, nil
}

// Store writes the record of an account as a new KV version.
func (b *VaultBackend) Store(ctx context.Context, account interfaces.AccountID, record []byte) error {
	start := time.Now()
	if err := account.Validate(); err != nil {
		return err
	}
	path := fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, account)

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"record": base64.StdEncoding.EncodeToString(record),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored record in Vault",
		slog.String("account", account.String()),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// List returns the accounts under the data path using the KV v2 metadata endpoint.
func (b *VaultBackend) List(ctx context.Context) ([]interfaces.AccountID, error) {
	path := fmt.Sprintf("%s/metadata/%s", b.mountPath, b.dataPath)

	secret, err := b.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	keys, _ := secret.Data["keys"].([]interface{})
	accounts := make([]interfaces.AccountID, 0, len(keys))
	for _, key := range keys {
		name, ok := key.(string)
		if !ok || strings.HasSuffix(name, "/") {
			continue
		}
		if account := interfaces.AccountID(name); account.Validate() == nil {
			accounts = append(accounts, account)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}
