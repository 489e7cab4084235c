// Package setup implements the first-run wizard: it records the app contract
// address and a signing wallet in the config file.
package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/yolodolo42/permitflow/internal/wallet"
)

// ConfigFile is the config file name inside the data directory.
const ConfigFile = "config.yaml"

// privateKeyEnvs are checked in order for a raw signing key.
var privateKeyEnvs = []string{"PERMITFLOW_PRIVATE_KEY", "PRIVATE_KEY"}

// Status is what is already configured.
type Status struct {
	ConfigPath    string
	HasConfig     bool
	AppAddress    string
	HasWallet     bool
	WalletAddress string
	// EnvKeyVar names the environment variable holding a private key, if any.
	EnvKeyVar string
}

// DetectStatus inspects the config file, the keystore and the environment.
func DetectStatus(dataDir, configPath string) (*Status, error) {
	if configPath == "" {
		configPath = filepath.Join(dataDir, ConfigFile)
	}
	status := &Status{ConfigPath: configPath}

	if _, err := os.Stat(configPath); err == nil {
		status.HasConfig = true
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return status, fmt.Errorf("read %s: %w", configPath, err)
		}
		if addr := strings.TrimSpace(v.GetString("app_address")); common.IsHexAddress(addr) {
			status.AppAddress = common.HexToAddress(addr).Hex()
		}
		if account := strings.TrimSpace(v.GetString("account")); common.IsHexAddress(account) {
			status.WalletAddress = common.HexToAddress(account).Hex()
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return status, err
	}

	keystoreDir := filepath.Join(dataDir, wallet.KeystoreDir)
	if entries, err := os.ReadDir(keystoreDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				status.HasWallet = true
				break
			}
		}
	}
	if status.HasWallet && status.WalletAddress == "" {
		if km, err := wallet.NewKeystoreManager(dataDir); err == nil {
			if accounts := km.ListAccounts(); len(accounts) > 0 {
				status.WalletAddress = accounts[0].Address.Hex()
			}
		}
	}

	for _, env := range privateKeyEnvs {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			status.EnvKeyVar = env
			break
		}
	}
	return status, nil
}

// HasSigner is true when a flow could sign without further setup.
func (s *Status) HasSigner() bool {
	return s.HasWallet || s.EnvKeyVar != ""
}

// Complete is true when the flows can run.
func (s *Status) Complete() bool {
	return s.AppAddress != "" && s.HasSigner()
}

// WriteConfig merges values into the YAML file at path, creating it with
// 0600 permissions.
func WriteConfig(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	for key, value := range values {
		if value != "" {
			v.Set(key, value)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
