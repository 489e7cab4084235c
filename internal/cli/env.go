package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/yolodolo42/permitflow/internal/chain"
	"github.com/yolodolo42/permitflow/internal/config"
	"github.com/yolodolo42/permitflow/internal/contracts"
	"github.com/yolodolo42/permitflow/internal/flow"
	"github.com/yolodolo42/permitflow/internal/logging"
	"github.com/yolodolo42/permitflow/internal/store"
	"github.com/yolodolo42/permitflow/internal/tx"
	"github.com/yolodolo42/permitflow/internal/wallet"
)

var errNoSigner = errors.New("no signer configured: set PRIVATE_KEY or run permitflow init")

// env is everything a flow command needs. It is opened once per invocation
// and closed when the command returns.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	client *chain.Client
	db     *store.DB
	redis  *redis.Client
	signer wallet.Signer
	runner *flow.Runner
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	opts := logging.Options{Level: cfg.Log.Level}
	if cfg.Log.File {
		opts.DataDir = cfg.DataDir
	}
	return logging.New(opts)
}

// openEnv dials the network, unlocks the signer and builds the Runner.
func openEnv(ctx context.Context) (_ *env, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireApp(); err != nil {
		return nil, fmt.Errorf("%w: set app_address or run permitflow init", err)
	}

	e := &env{cfg: cfg}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if e.log, err = newLogger(cfg); err != nil {
		return nil, err
	}
	log := e.log.Logger

	network, err := cfg.Chain()
	if err != nil {
		return nil, err
	}
	e.client, err = chain.Dial(ctx, network, cfg.RPCEndpoints(network)...)
	if err != nil {
		return nil, err
	}
	e.client.SetPollInterval(cfg.Tx.PollInterval)
	log.Info("connected",
		zap.String("network", network.Name),
		zap.Stringer("chain_id", network.ChainID),
		zap.String("rpc_url", logging.RedactURL(firstOr(cfg.RPCEndpoints(network), ""))),
	)

	if e.signer, err = loadSigner(cfg); err != nil {
		return nil, err
	}

	appABI := contracts.AppABI
	if cfg.AppABIPath != "" {
		if appABI, err = contracts.LoadArtifact(cfg.AppABIPath); err != nil {
			return nil, err
		}
	}

	if e.db, err = store.Open(cfg.DataDir); err != nil {
		return nil, err
	}
	ledger, err := e.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	e.runner, err = buildRunner(cfg, e.client, e.signer, appABI, ledger, e.db.Receipts(), log)
	if err != nil {
		return nil, err
	}
	log.Debug("runner ready",
		zap.Stringer("owner", e.signer.Address()),
		zap.Stringer("token", cfg.TokenAddress),
		zap.Stringer("registry", cfg.RegistryAddress),
		zap.Stringer("app", cfg.AppAddress),
		zap.String("nonce_store", cfg.NonceStore),
	)
	return e, nil
}

// rpcBackend is what the Runner needs from a connected node.
type rpcBackend interface {
	tx.Backend
	contracts.Caller
}

func buildRunner(cfg *config.Config, backend rpcBackend, signer wallet.Signer, appABI abi.ABI, ledger store.NonceLedger, receipts flow.ReceiptSink, log *zap.Logger) (*flow.Runner, error) {
	// Transactions may only go to the token (approve) and the app.
	sender := tx.NewSender(backend, signer, tx.Policy{
		AllowTo:            []common.Address{cfg.TokenAddress, cfg.AppAddress},
		GasHeadroomPercent: cfg.Tx.GasHeadroom,
		MaxFeePerGas:       cfg.Tx.MaxFeePerGas,
	})

	return flow.New(flow.Deps{
		Chain:           backend,
		Signer:          signer,
		Token:           contracts.NewToken(cfg.TokenAddress, backend, sender),
		Registry:        contracts.NewRegistry(cfg.RegistryAddress, backend),
		App:             contracts.NewApp(cfg.AppAddress, appABI, sender),
		TokenAddress:    cfg.TokenAddress,
		RegistryAddress: cfg.RegistryAddress,
		AppAddress:      cfg.AppAddress,
		Policy:          cfg.PermitPolicy(),
		WitnessUser:     cfg.Policy.WitnessUser,
		Ledger:          ledger,
		Receipts:        receipts,
		ChainName:       cfg.Network,
		WaitTimeout:     cfg.Tx.WaitTimeout,
		Logger:          log,
	})
}

// reservationTTL keeps a reservation alive at least as long as a signature
// made under it can still be submitted.
func reservationTTL(cfg *config.Config) time.Duration {
	if cfg.Policy.SignatureWindow > store.DefaultReservationTTL {
		return cfg.Policy.SignatureWindow
	}
	return store.DefaultReservationTTL
}

func (e *env) openLedger(ctx context.Context) (store.NonceLedger, error) {
	ttl := reservationTTL(e.cfg)
	var log *zap.Logger
	if e.log != nil {
		log = e.log.Logger
	}

	switch e.cfg.NonceStore {
	case config.NonceStoreRedis:
		e.redis = store.NewRedisClient(e.cfg.Redis)
		if err := store.PingRedis(ctx, e.redis); err != nil {
			return nil, err
		}
		return store.NewRedisLedger(e.redis, ttl, log), nil
	case config.NonceStoreNone:
		return store.NewMemoryLedger(), nil
	default:
		if e.db == nil {
			return nil, fmt.Errorf("sqlite nonce store is not open")
		}
		return e.db.Nonces(ttl, log), nil
	}
}

// loadSigner prefers a raw private key and falls back to the keystore.
func loadSigner(cfg *config.Config) (wallet.Signer, error) {
	if cfg.PrivateKey != "" {
		signer, err := wallet.NewPrivateKeySigner(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	account, err := km.Resolve(cfg.Account)
	if errors.Is(err, wallet.ErrNoAccounts) {
		return nil, errNoSigner
	}
	if err != nil {
		return nil, err
	}

	password := cfg.Password
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("keystore password required: set PERMITFLOW_PASSWORD")
		}
		if password, err = readPassword(fmt.Sprintf("Password for %s: ", account.Address.Hex())); err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
	}
	signer, err := km.Unlock(account.Address.Hex(), password)
	if err != nil {
		return nil, err
	}
	return signer, nil
}

// Close releases everything openEnv acquired, newest first.
func (e *env) Close() {
	if e == nil {
		return
	}
	if locker, ok := e.signer.(interface{ Lock() }); ok {
		locker.Lock()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.client != nil {
		e.client.Close()
	}
	if e.log != nil {
		_ = e.log.Close()
	}
}

func firstOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return values[0]
}
