package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownChain is returned for a network name with no preset.
var ErrUnknownChain = errors.New("unknown chain")

// ChainConfig describes one EVM network permitflow can talk to.
type ChainConfig struct {
	// Key is the preset name used in config and flags, e.g. "sepolia".
	Key            string
	Name           string
	ChainID        *big.Int
	RPCURLs        []string
	ExplorerURL    string // empty when the network has no block explorer
	NativeCurrency string
	Testnet        bool
	InfuraNetwork  string // subdomain on infura.io, empty if unsupported
}

// presets in display order; Sepolia is the default network.
var presets = []ChainConfig{
	{
		Key:            "sepolia",
		Name:           "Sepolia Testnet",
		ChainID:        big.NewInt(11155111),
		RPCURLs:        []string{"https://rpc.sepolia.org", "https://sepolia.drpc.org"},
		ExplorerURL:    "https://sepolia.etherscan.io",
		NativeCurrency: "ETH",
		Testnet:        true,
		InfuraNetwork:  "sepolia",
	},
	{
		Key:            "base-sepolia",
		Name:           "Base Sepolia Testnet",
		ChainID:        big.NewInt(84532),
		RPCURLs:        []string{"https://sepolia.base.org"},
		ExplorerURL:    "https://sepolia.basescan.org",
		NativeCurrency: "ETH",
		Testnet:        true,
		InfuraNetwork:  "base-sepolia",
	},
	{
		Key:            "ethereum",
		Name:           "Ethereum Mainnet",
		ChainID:        big.NewInt(1),
		RPCURLs:        []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth"},
		ExplorerURL:    "https://etherscan.io",
		NativeCurrency: "ETH",
		InfuraNetwork:  "mainnet",
	},
	{
		Key:            "base",
		Name:           "Base",
		ChainID:        big.NewInt(8453),
		RPCURLs:        []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
		ExplorerURL:    "https://basescan.org",
		NativeCurrency: "ETH",
		InfuraNetwork:  "base-mainnet",
	},
	{
		Key:            "arbitrum",
		Name:           "Arbitrum One",
		ChainID:        big.NewInt(42161),
		RPCURLs:        []string{"https://arb1.arbitrum.io/rpc", "https://arbitrum.llamarpc.com"},
		ExplorerURL:    "https://arbiscan.io",
		NativeCurrency: "ETH",
		InfuraNetwork:  "arbitrum-mainnet",
	},
	{
		Key:            "optimism",
		Name:           "Optimism",
		ChainID:        big.NewInt(10),
		RPCURLs:        []string{"https://mainnet.optimism.io", "https://optimism.llamarpc.com"},
		ExplorerURL:    "https://optimistic.etherscan.io",
		NativeCurrency: "ETH",
		InfuraNetwork:  "optimism-mainnet",
	},
	{
		Key:            "polygon",
		Name:           "Polygon",
		ChainID:        big.NewInt(137),
		RPCURLs:        []string{"https://polygon-rpc.com", "https://polygon.llamarpc.com"},
		ExplorerURL:    "https://polygonscan.com",
		NativeCurrency: "POL",
		InfuraNetwork:  "polygon-mainnet",
	},
	{
		// Hardhat and anvil dev nodes.
		Key:            "localhost",
		Name:           "Local Dev Node",
		ChainID:        big.NewInt(31337),
		RPCURLs:        []string{"http://127.0.0.1:8545"},
		NativeCurrency: "ETH",
		Testnet:        true,
	},
}

// Names lists the preset keys in display order.
func Names() []string {
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Key
	}
	return names
}

// DefaultChains returns a fresh copy of every preset, keyed by name.
func DefaultChains() map[string]*ChainConfig {
	out := make(map[string]*ChainConfig, len(presets))
	for i := range presets {
		cfg := presets[i].clone()
		out[cfg.Key] = cfg
	}
	return out
}

// LookupChain returns a copy of the preset named name. Names are case-insensitive.
func LookupChain(name string) (*ChainConfig, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i := range presets {
		if presets[i].Key == key {
			return presets[i].clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownChain, name, strings.Join(Names(), ", "))
}

func (c ChainConfig) clone() *ChainConfig {
	c.ChainID = new(big.Int).Set(c.ChainID)
	c.RPCURLs = append([]string(nil), c.RPCURLs...)
	return &c
}

// InfuraURL returns the Infura HTTPS endpoint for the network and project key.
func (c *ChainConfig) InfuraURL(projectKey string) (string, error) {
	if c.InfuraNetwork == "" {
		return "", fmt.Errorf("%s has no Infura endpoint", c.Name)
	}
	if projectKey == "" {
		return "", fmt.Errorf("infura project key is empty")
	}
	return fmt.Sprintf("https://%s.infura.io/v3/%s", c.InfuraNetwork, projectKey), nil
}

// TxURL links a transaction on the block explorer, or returns "".
func (c *ChainConfig) TxURL(hash common.Hash) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return c.ExplorerURL + "/tx/" + hash.Hex()
}

// AddressURL links an account or contract on the block explorer, or returns "".
func (c *ChainConfig) AddressURL(addr common.Address) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return c.ExplorerURL + "/address/" + addr.Hex()
}
