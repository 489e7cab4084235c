// Package config resolves the effective settings for a command from the
// config file, the environment and .env, and turns them into typed values.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yolodolo42/permitflow/internal/chain"
	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/permit"
	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/tx"
)

// EnvPrefix namespaces environment overrides, e.g. PERMITFLOW_APP_ADDRESS.
const EnvPrefix = "PERMITFLOW"

// Nonce ledger backends.
const (
	NonceStoreSQLite = "sqlite"
	NonceStoreRedis  = "redis"
	NonceStoreNone   = "none"
)

// DefaultTokenAddress is LINK on Sepolia.
const DefaultTokenAddress = "0x779877A7B0D9E8603169DdbD7836e478b4624789"

// DefaultWitnessUser is the user bound into witness transfers when none is set.
const DefaultWitnessUser = "0x0000000000000000000000000000000000001337"

var (
	ErrMissingAppAddress = errors.New("app_address is not configured")
	ErrInvalidAddress    = errors.New("invalid address")
)

// Config is the typed view of the settings for one command.
type Config struct {
	Network    string
	RPCURL     string
	InfuraKey  string
	PrivateKey string
	Account    string
	Password   string

	RegistryAddress common.Address
	AppAddress      common.Address
	AppABIPath      string
	TokenAddress    common.Address

	Policy PolicyConfig
	Tx     TxConfig

	NonceStore string
	Redis      store.RedisConfig

	DataDir string
	Log     LogConfig
}

// PolicyConfig holds permit windows and flow inputs.
type PolicyConfig struct {
	AllowanceWindow time.Duration
	SignatureWindow time.Duration
	Amount          string
	WitnessUser     common.Address
}

// TxConfig controls gas pricing and how long the CLI waits for confirmations.
type TxConfig struct {
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// GasHeadroom is the percentage added to gas estimates.
	GasHeadroom uint64
	// MaxFeePerGas caps the EIP-1559 fee cap in wei; nil means no cap.
	MaxFeePerGas *big.Int
}

// LogConfig controls the console level and the run transcript.
type LogConfig struct {
	Level string
	File  bool
}

// DefaultDataDir returns $HOME/.permitflow.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".permitflow"), nil
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("network", "sepolia")
	v.SetDefault("rpc_url", "")
	v.SetDefault("infura_key", "")
	v.SetDefault("private_key", "")
	v.SetDefault("account", "")
	v.SetDefault("password", "")
	v.SetDefault("registry_address", permit.DefaultRegistryAddress.Hex())
	v.SetDefault("app_address", "")
	v.SetDefault("app_abi_path", "")
	v.SetDefault("token_address", DefaultTokenAddress)
	v.SetDefault("policy.allowance_window", "720h")
	v.SetDefault("policy.signature_window", "30m")
	v.SetDefault("policy.amount", "0.1")
	v.SetDefault("policy.witness_user", DefaultWitnessUser)
	v.SetDefault("tx.wait_timeout", "2m")
	v.SetDefault("tx.poll_interval", "2s")
	v.SetDefault("tx.gas_headroom", tx.DefaultGasHeadroomPercent)
	v.SetDefault("tx.max_fee_gwei", "")
	v.SetDefault("nonce_store", NonceStoreSQLite)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", true)
}

// BindEnv maps PERMITFLOW_* variables onto keys and keeps the bare names
// used by existing deployment scripts.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string][]string{
		"private_key": {"PERMITFLOW_PRIVATE_KEY", "PRIVATE_KEY"},
		"infura_key":  {"PERMITFLOW_INFURA_KEY", "SEPOLIA_KEY", "INFURA_KEY"},
		"password":    {"PERMITFLOW_PASSWORD"},
		"rpc_url":     {"PERMITFLOW_RPC_URL", "RPC_URL"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Network:    strings.ToLower(strings.TrimSpace(v.GetString("network"))),
		RPCURL:     strings.TrimSpace(v.GetString("rpc_url")),
		InfuraKey:  strings.TrimSpace(v.GetString("infura_key")),
		PrivateKey: strings.TrimSpace(v.GetString("private_key")),
		Account:    strings.TrimSpace(v.GetString("account")),
		Password:   v.GetString("password"),
		AppABIPath: v.GetString("app_abi_path"),
		Policy: PolicyConfig{
			AllowanceWindow: v.GetDuration("policy.allowance_window"),
			SignatureWindow: v.GetDuration("policy.signature_window"),
			Amount:          strings.TrimSpace(v.GetString("policy.amount")),
		},
		Tx: TxConfig{
			WaitTimeout:  v.GetDuration("tx.wait_timeout"),
			PollInterval: v.GetDuration("tx.poll_interval"),
			GasHeadroom:  v.GetUint64("tx.gas_headroom"),
		},
		NonceStore: strings.ToLower(strings.TrimSpace(v.GetString("nonce_store"))),
		Redis: store.RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		DataDir: v.GetString("data_dir"),
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetBool("log.file"),
		},
	}

	var err error
	if gwei := strings.TrimSpace(v.GetString("tx.max_fee_gwei")); gwei != "" {
		if cfg.Tx.MaxFeePerGas, err = chain.ParseUnits(gwei, 9); err != nil {
			return nil, fmt.Errorf("tx.max_fee_gwei: %w", err)
		}
	}
	if cfg.RegistryAddress, err = parseAddress("registry_address", v.GetString("registry_address"), true); err != nil {
		return nil, err
	}
	if cfg.TokenAddress, err = parseAddress("token_address", v.GetString("token_address"), true); err != nil {
		return nil, err
	}
	if cfg.AppAddress, err = parseAddress("app_address", v.GetString("app_address"), false); err != nil {
		return nil, err
	}
	if cfg.Policy.WitnessUser, err = parseAddress("policy.witness_user", v.GetString("policy.witness_user"), true); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseAddress(key, value string, required bool) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("%w: %s is empty", ErrInvalidAddress, key)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s=%q", ErrInvalidAddress, key, value)
	}
	return common.HexToAddress(value), nil
}

func (c *Config) validate() error {
	if _, err := chain.LookupChain(c.Network); err != nil {
		return err
	}
	switch c.NonceStore {
	case NonceStoreSQLite, NonceStoreRedis, NonceStoreNone:
	default:
		return fmt.Errorf("unknown nonce_store %q (want sqlite, redis or none)", c.NonceStore)
	}
	if c.Policy.SignatureWindow <= 0 {
		return fmt.Errorf("policy.signature_window must be positive")
	}
	if c.Policy.AllowanceWindow <= 0 {
		return fmt.Errorf("policy.allowance_window must be positive")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	return nil
}

// RequireApp returns ErrMissingAppAddress unless an app contract is configured.
func (c *Config) RequireApp() error {
	if c.AppAddress == (common.Address{}) {
		return ErrMissingAppAddress
	}
	return nil
}

// Chain returns the preset for the configured network.
func (c *Config) Chain() (*chain.ChainConfig, error) {
	return chain.LookupChain(c.Network)
}

// RPCEndpoints lists the URLs to dial, in order: the explicit rpc_url, the
// Infura endpoint when a project key is set, then the preset's public URLs.
func (c *Config) RPCEndpoints(network *chain.ChainConfig) []string {
	if c.RPCURL != "" {
		return []string{c.RPCURL}
	}
	var urls []string
	if c.InfuraKey != "" {
		if u, err := network.InfuraURL(c.InfuraKey); err == nil {
			urls = append(urls, u)
		}
	}
	return append(urls, network.RPCURLs...)
}

// PermitPolicy returns the time windows for new permits.
func (c *Config) PermitPolicy() permit.Policy {
	return permit.Policy{
		AllowanceWindow: c.Policy.AllowanceWindow,
		SignatureWindow: c.Policy.SignatureWindow,
	}
}

// Redacted returns every setting in v with secrets masked, for display.
func Redacted(v *viper.Viper) map[string]any {
	return logging.RedactSettings(v.AllSettings())
}
