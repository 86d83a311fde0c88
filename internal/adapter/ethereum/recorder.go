package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/adapter/otel"
	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/resilience"
	"github.com/Strob0t/AutoAgent/internal/secrets"
)

// actionLoggerABI is the slice of the action-log contract we call.
const actionLoggerABI = `[
  {"type":"function","name":"logAction","stateMutability":"nonpayable",
   "inputs":[{"name":"actionHash","type":"bytes32"},{"name":"cost","type":"uint256"}],
   "outputs":[]}
]`

// gasBufferPercent pads the gas estimate.
const gasBufferPercent = 120

// Backend is the chain access the recorder needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// KeySource resolves an agent to its sealed private key.
type KeySource interface {
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
}

// Recorder implements ledger.Recorder by calling logAction on the
// configured contract from the agent's own wallet.
type Recorder struct {
	backend        Backend
	keys           KeySource
	sealer         *secrets.Sealer
	contract       common.Address
	enabled        bool
	abi            abi.ABI
	chainID        *big.Int
	receiptTimeout time.Duration
	breaker        *resilience.Breaker
}

// NewRecorder creates a Recorder. An empty contract address disables
// on-chain logging: LogAction then returns an empty reference.
func NewRecorder(backend Backend, keys KeySource, sealer *secrets.Sealer, cfg config.Chain, breaker *resilience.Breaker) (*Recorder, error) {
	parsed, err := abi.JSON(strings.NewReader(actionLoggerABI))
	if err != nil {
		return nil, fmt.Errorf("parse action logger abi: %w", err)
	}
	r := &Recorder{
		backend:        backend,
		keys:           keys,
		sealer:         sealer,
		abi:            parsed,
		chainID:        big.NewInt(cfg.ChainID),
		receiptTimeout: cfg.ReceiptTimeout,
		breaker:        breaker,
	}
	if cfg.ContractAddress != "" {
		if !common.IsHexAddress(cfg.ContractAddress) {
			return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
		}
		r.contract = common.HexToAddress(cfg.ContractAddress)
		r.enabled = true
	} else {
		slog.Warn("contract address not set, on-chain action logging disabled")
	}
	return r, nil
}

// Enabled reports whether a contract is configured.
func (r *Recorder) Enabled() bool { return r.enabled }

// ActionHash is the on-chain digest of an action description.
func ActionHash(action string) common.Hash {
	return crypto.Keccak256Hash([]byte(action))
}

// LogAction records action and its cost on chain and waits for the receipt.
func (r *Recorder) LogAction(ctx context.Context, agentID, action string, cost decimal.Decimal) (string, error) {
	if !r.enabled {
		return "", nil
	}

	ctx, span := otel.StartLedgerSpan(ctx, agentID)
	defer span.End()

	key, err := r.agentKey(ctx, agentID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	hash, err := resilience.Call(r.breaker, func() (string, error) {
		return r.send(ctx, key, ActionHash(action), toWei(cost))
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("log action for agent %s: %w", agentID, err)
	}
	return hash, nil
}

func (r *Recorder) agentKey(ctx context.Context, agentID string) (*ecdsa.PrivateKey, error) {
	a, err := r.keys.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent key: %w", err)
	}
	raw, err := r.sealer.Open(a.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("open agent key: %w", err)
	}
	key, err := crypto.HexToECDSA(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse agent key: %w", err)
	}
	return key, nil
}

func (r *Recorder) send(ctx context.Context, key *ecdsa.PrivateKey, actionHash common.Hash, costWei *big.Int) (string, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, r.chainID)
	if err != nil {
		return "", fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx

	digest := [32]byte(actionHash)
	data, err := r.abi.Pack("logAction", digest, costWei)
	if err != nil {
		return "", fmt.Errorf("pack logAction: %w", err)
	}
	gas, err := r.backend.EstimateGas(ctx, goethereum.CallMsg{From: opts.From, To: &r.contract, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	opts.GasLimit = gas * gasBufferPercent / 100

	contract := bind.NewBoundContract(r.contract, r.abi, r.backend, r.backend, r.backend)
	tx, err := contract.Transact(opts, "logAction", digest, costWei)
	if err != nil {
		return "", fmt.Errorf("send logAction: %w", err)
	}
	slog.Info("ledger transaction sent", "hash", tx.Hash().Hex(), "from", opts.From.Hex())

	wctx := ctx
	if r.receiptTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, r.receiptTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(wctx, r.backend, tx)
	if err != nil {
		return "", fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	slog.Info("ledger transaction confirmed", "hash", receipt.TxHash.Hex(), "gas_used", receipt.GasUsed)
	return receipt.TxHash.Hex(), nil
}
