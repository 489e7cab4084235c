package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/yolodolo42/permitflow/internal/logging"
)

// DefaultPollInterval is how often WaitMined asks for a receipt.
const DefaultPollInterval = 2 * time.Second

// Client is a connection to a single EVM network.
type Client struct {
	config       *ChainConfig
	rpc          *ethclient.Client
	pollInterval time.Duration
}

// Dial connects to the first reachable endpoint whose chain ID matches config.
// When rpcURLs is empty the preset URLs are tried in order.
func Dial(ctx context.Context, config *ChainConfig, rpcURLs ...string) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("chain config is nil")
	}
	if len(rpcURLs) == 0 {
		rpcURLs = config.RPCURLs
	}
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured for %s", config.Name)
	}

	var lastErr error
	for _, rpcURL := range rpcURLs {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := ethclient.DialContext(dialCtx, rpcURL)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}

		// Verify chain ID
		idCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		chainID, err := client.ChainID(idCtx)
		cancel()

		if err != nil {
			client.Close()
			lastErr = err
			continue
		}

		if chainID.Cmp(config.ChainID) != 0 {
			client.Close()
			lastErr = fmt.Errorf("chain ID mismatch: expected %s, got %s", config.ChainID.String(), chainID.String())
			continue
		}

		return &Client{config: config, rpc: client, pollInterval: DefaultPollInterval}, nil
	}

	return nil, fmt.Errorf("failed to connect to %s: %w", config.Name, logging.RedactError(lastErr))
}

// Config returns the network preset the client was dialed with.
func (c *Client) Config() *ChainConfig {
	return c.config
}

// SetPollInterval changes the receipt polling period used by WaitMined.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// ChainID asks the node for its chain ID. It is never cached.
// Errors from every RPC method have provider project keys masked.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.rpc.ChainID(ctx)
	return id, logging.RedactError(err)
}

// BalanceAt returns the native balance for an address
func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.rpc.BalanceAt(ctx, address, nil)
	return balance, logging.RedactError(err)
}

// PendingNonceAt returns the next account nonce, counting pending transactions
func (c *Client) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, address)
	return nonce, logging.RedactError(err)
}

// EstimateGas estimates gas for a transaction
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.rpc.EstimateGas(ctx, msg)
	return gas, logging.RedactError(err)
}

// SuggestGasPrice returns the suggested gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.rpc.SuggestGasPrice(ctx)
	return price, logging.RedactError(err)
}

// SuggestGasTipCap returns the suggested gas tip cap for EIP-1559 transactions
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	return tip, logging.RedactError(err)
}

// SendTransaction sends a signed transaction to the network
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return logging.RedactError(c.rpc.SendTransaction(ctx, tx))
}

// CallContract executes a contract call (read-only) against the latest block
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.rpc.CallContract(ctx, msg, nil)
	return out, logging.RedactError(err)
}

// TransactionReceipt gets the receipt for a mined transaction
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
	return receipt, logging.RedactError(err)
}

// WaitMined polls until the transaction has a receipt. Lookup errors other
// than "not found" are returned immediately.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the RPC connection
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}
