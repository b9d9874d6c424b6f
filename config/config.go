package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/treasury-vault/cryptoutils"
	"github.com/ruteri/treasury-vault/ledger"
	"github.com/ruteri/treasury-vault/treasury"
	"github.com/urfave/cli/v2"
)

const (
	KMSSimple = "simple"
	KMSShamir = "shamir"

	BroadcasterMock     = "mock"
	BroadcasterEthereum = "ethereum"
)

var (
	ErrMissingMasterKey      = errors.New("master key is required for simple KMS (TREASURY_MASTER_KEY)")
	ErrMissingAdminKeys      = errors.New("admin keys file is required for shamir KMS")
	ErrMissingApprovalSecret = errors.New("approval secret is required (TREASURY_APPROVAL_SECRET)")
	ErrMissingToken          = errors.New("token contract address is required for the ethereum broadcaster")
)

var MasterKeyFlag = &cli.StringFlag{
	Name:    "master-key",
	Usage:   "hex-encoded master secret (at least 32 bytes) used with kms-type 'simple'",
	EnvVars: []string{"TREASURY_MASTER_KEY"},
}
var KMSTypeFlag = &cli.StringFlag{
	Name:    "kms-type",
	Value:   KMSSimple,
	Usage:   "master secret custody: 'simple' or 'shamir'",
	EnvVars: []string{"TREASURY_KMS_TYPE"},
}
var AdminKeysFileFlag = &cli.StringFlag{
	Name:    "admin-keys-file",
	Usage:   "JSON file with admin public keys, required if kms-type is 'shamir'",
	EnvVars: []string{"TREASURY_ADMIN_KEYS_FILE"},
}
var ShamirThresholdFlag = &cli.IntFlag{
	Name:    "shamir-threshold",
	Value:   2,
	Usage:   "number of admin shares needed to unseal",
	EnvVars: []string{"TREASURY_SHAMIR_THRESHOLD"},
}
var UnsealTimeoutFlag = &cli.DurationFlag{
	Name:    "unseal-timeout",
	Value:   24 * time.Hour,
	Usage:   "how long to wait for admin shares before giving up",
	EnvVars: []string{"TREASURY_UNSEAL_TIMEOUT"},
}
var SealAlgorithmFlag = &cli.StringFlag{
	Name:    "seal-algorithm",
	Value:   cryptoutils.AlgAES256GCM,
	Usage:   "AEAD for new vault records: 'aes-256-gcm' or 'xchacha20-poly1305'",
	EnvVars: []string{"TREASURY_SEAL_ALGORITHM"},
}
var VaultURIFlag = &cli.StringFlag{
	Name:    "vault-uri",
	Value:   "file:///opt/treasury/vault",
	Usage:   "credential record backend(s), comma-separated for redundancy (file://, sqlite://, s3://, vault://, memory://)",
	EnvVars: []string{"TREASURY_VAULT_URI"},
}
var DatabaseFlag = &cli.StringFlag{
	Name:    "database",
	Usage:   "SQLite database file shared by sqlite backends, ledger, journal and lockdown",
	EnvVars: []string{"TREASURY_DATABASE"},
}
var JournalFlag = &cli.StringFlag{
	Name:    "journal",
	Value:   "file:///opt/treasury/vault/access.log",
	Usage:   "audit journal sink: file://<path>, sqlite:// or memory://",
	EnvVars: []string{"TREASURY_JOURNAL"},
}
var LockdownFlag = &cli.StringFlag{
	Name:    "lockdown",
	Value:   "file:///opt/treasury/vault",
	Usage:   "lockdown sentinel: file://<dir>, sqlite:// or memory://",
	EnvVars: []string{"TREASURY_LOCKDOWN"},
}
var LedgerFlag = &cli.StringFlag{
	Name:    "ledger",
	Value:   "memory://",
	Usage:   "daily usage ledger: memory://, sqlite:// or redis://host:port/db",
	EnvVars: []string{"TREASURY_LEDGER"},
}
var PolicyFileFlag = &cli.StringFlag{
	Name:    "policy-file",
	Usage:   "YAML account policy file; the built-in table is used when empty",
	EnvVars: []string{"TREASURY_POLICY_FILE"},
}
var ApprovalSecretFlag = &cli.StringFlag{
	Name:    "approval-secret",
	Usage:   "secret for daily approval codes",
	EnvVars: []string{"TREASURY_APPROVAL_SECRET"},
}
var TimezoneFlag = &cli.StringFlag{
	Name:    "timezone",
	Value:   "UTC",
	Usage:   "IANA zone in which daily limits roll over",
	EnvVars: []string{"TREASURY_TIMEZONE"},
}
var RetentionDaysFlag = &cli.IntFlag{
	Name:    "retention-days",
	Value:   ledger.DefaultRetentionDays,
	Usage:   "days of usage records kept by the ledger",
	EnvVars: []string{"TREASURY_RETENTION_DAYS"},
}
var AdminTokenFlag = &cli.StringFlag{
	Name:    "admin-token",
	Usage:   "bearer token allowing lockdown activation over HTTP; disabled when empty",
	EnvVars: []string{"TREASURY_ADMIN_TOKEN"},
}
var BroadcasterFlag = &cli.StringFlag{
	Name:    "broadcaster",
	Value:   BroadcasterMock,
	Usage:   "transaction broadcaster: 'mock' or 'ethereum'",
	EnvVars: []string{"TREASURY_BROADCASTER"},
}
var RPCAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"TREASURY_RPC_ADDR"},
}
var TokenAddressFlag = &cli.StringFlag{
	Name:    "token-address",
	Usage:   "ERC-20 token contract transfers are issued against",
	EnvVars: []string{"TREASURY_TOKEN_ADDRESS"},
}
var ChainIDFlag = &cli.Int64Flag{
	Name:    "chain-id",
	Value:   1,
	Usage:   "chain id used for transaction signing",
	EnvVars: []string{"TREASURY_CHAIN_ID"},
}
var TokenDecimalsFlag = &cli.UintFlag{
	Name:    "token-decimals",
	Value:   18,
	Usage:   "token decimals; treasury amounts are whole tokens",
	EnvVars: []string{"TREASURY_TOKEN_DECIMALS"},
}
var GasLimitFlag = &cli.Uint64Flag{
	Name:    "gas-limit",
	Usage:   "fixed gas limit per transaction; estimated when zero",
	EnvVars: []string{"TREASURY_GAS_LIMIT"},
}
var SubmitTimeoutFlag = &cli.DurationFlag{
	Name:    "submit-timeout",
	Value:   treasury.DefaultSubmitTimeout,
	Usage:   "deadline for a single broadcast",
	EnvVars: []string{"TREASURY_SUBMIT_TIMEOUT"},
}
var ProbeTimeoutFlag = &cli.DurationFlag{
	Name:    "probe-timeout",
	Value:   treasury.DefaultProbeTimeout,
	Usage:   "deadline for asking the chain about an undecided broadcast",
	EnvVars: []string{"TREASURY_PROBE_TIMEOUT"},
}

// StoreFlags are needed by anything that opens the vault.
var StoreFlags = []cli.Flag{
	MasterKeyFlag,
	KMSTypeFlag,
	AdminKeysFileFlag,
	ShamirThresholdFlag,
	UnsealTimeoutFlag,
	SealAlgorithmFlag,
	VaultURIFlag,
	DatabaseFlag,
	JournalFlag,
	LockdownFlag,
	LedgerFlag,
	PolicyFileFlag,
	ApprovalSecretFlag,
	TimezoneFlag,
	RetentionDaysFlag,
}

// ServerFlags are additionally needed by the transfer server.
var ServerFlags = []cli.Flag{
	AdminTokenFlag,
	BroadcasterFlag,
	RPCAddrFlag,
	TokenAddressFlag,
	ChainIDFlag,
	TokenDecimalsFlag,
	GasLimitFlag,
	SubmitTimeoutFlag,
	ProbeTimeoutFlag,
}

// Config is the validated treasury configuration.
type Config struct {
	MasterKey       string
	KMSType         string
	AdminKeysFile   string
	ShamirThreshold int
	UnsealTimeout   time.Duration
	SealAlgorithm   string

	VaultURI   string
	Database   string
	Journal    string
	Lockdown   string
	Ledger     string
	PolicyFile string

	ApprovalSecret string
	Location       *time.Location
	RetentionDays  int
	AdminToken     string

	Broadcaster   string
	RPCAddr       string
	Token         common.Address
	ChainID       *big.Int
	TokenDecimals uint8
	GasLimit      uint64
	SubmitTimeout time.Duration
	ProbeTimeout  time.Duration
}

// FromCLI reads and validates the configuration. Server flags that are not registered on the
// command read as zero values, which the components replace with their own defaults.
func FromCLI(cCtx *cli.Context) (*Config, error) {
	cfg := &Config{
		MasterKey:       cCtx.String(MasterKeyFlag.Name),
		KMSType:         strings.ToLower(cCtx.String(KMSTypeFlag.Name)),
		AdminKeysFile:   cCtx.String(AdminKeysFileFlag.Name),
		ShamirThreshold: cCtx.Int(ShamirThresholdFlag.Name),
		UnsealTimeout:   cCtx.Duration(UnsealTimeoutFlag.Name),
		SealAlgorithm:   cCtx.String(SealAlgorithmFlag.Name),
		VaultURI:        cCtx.String(VaultURIFlag.Name),
		Database:        cCtx.String(DatabaseFlag.Name),
		Journal:         cCtx.String(JournalFlag.Name),
		Lockdown:        cCtx.String(LockdownFlag.Name),
		Ledger:          cCtx.String(LedgerFlag.Name),
		PolicyFile:      cCtx.String(PolicyFileFlag.Name),
		ApprovalSecret:  cCtx.String(ApprovalSecretFlag.Name),
		RetentionDays:   cCtx.Int(RetentionDaysFlag.Name),
		AdminToken:      cCtx.String(AdminTokenFlag.Name),
		Broadcaster:     strings.ToLower(cCtx.String(BroadcasterFlag.Name)),
		RPCAddr:         cCtx.String(RPCAddrFlag.Name),
		GasLimit:        cCtx.Uint64(GasLimitFlag.Name),
		SubmitTimeout:   cCtx.Duration(SubmitTimeoutFlag.Name),
		ProbeTimeout:    cCtx.Duration(ProbeTimeoutFlag.Name),
	}
	if cfg.Broadcaster == "" {
		cfg.Broadcaster = BroadcasterMock
	}

	loc, err := time.LoadLocation(cCtx.String(TimezoneFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	cfg.Location = loc

	if cfg.Broadcaster == BroadcasterEthereum {
		token := cCtx.String(TokenAddressFlag.Name)
		if token == "" {
			return nil, ErrMissingToken
		}
		if !common.IsHexAddress(token) {
			return nil, fmt.Errorf("invalid token address %q", token)
		}
		cfg.Token = common.HexToAddress(token)
		cfg.ChainID = big.NewInt(cCtx.Int64(ChainIDFlag.Name))

		decimals := cCtx.Uint(TokenDecimalsFlag.Name)
		if decimals > 36 {
			return nil, fmt.Errorf("token decimals %d out of range", decimals)
		}
		cfg.TokenDecimals = uint8(decimals)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.KMSType {
	case KMSSimple:
		if c.MasterKey == "" {
			return ErrMissingMasterKey
		}
	case KMSShamir:
		if c.AdminKeysFile == "" {
			return ErrMissingAdminKeys
		}
		if c.ShamirThreshold < 2 {
			return fmt.Errorf("shamir threshold must be at least 2, got %d", c.ShamirThreshold)
		}
	default:
		return fmt.Errorf("invalid kms-type: %q", c.KMSType)
	}

	if c.ApprovalSecret == "" {
		return ErrMissingApprovalSecret
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days must be positive, got %d", c.RetentionDays)
	}

	switch c.Broadcaster {
	case BroadcasterMock, BroadcasterEthereum:
	default:
		return fmt.Errorf("invalid broadcaster: %q", c.Broadcaster)
	}

	for name, uri := range map[string]string{"journal": c.Journal, "lockdown": c.Lockdown, "ledger": c.Ledger} {
		scheme, _, err := SplitURI(uri)
		if err != nil {
			return fmt.Errorf("invalid %s location: %w", name, err)
		}
		if scheme == "redis" && name != "ledger" {
			return fmt.Errorf("%s cannot be stored in redis", name)
		}
		if scheme == "sqlite" && c.Database == "" {
			return fmt.Errorf("%s uses sqlite but no database is configured", name)
		}
	}
	return nil
}

// SplitURI returns the scheme and the remainder of a component location such as
// file:///var/log/access.log or redis://localhost:6379/0.
func SplitURI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "file":
		return scheme, u.Path, nil
	case "memory", "sqlite":
		return scheme, "", nil
	case "redis":
		return scheme, uri, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// Hostname is used as the default journal actor.
func Hostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "treasury"
	}
	return host
}
