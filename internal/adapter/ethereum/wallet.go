// Package ethereum implements the wallet and ledger recorder ports on an
// EVM chain reached over JSON-RPC.
package ethereum

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/port/cache"
	"github.com/Strob0t/AutoAgent/internal/secrets"
)

// balanceReader is the subset of *ethclient.Client the wallet needs.
type balanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Wallet implements wallet.Wallet.
type Wallet struct {
	chain  balanceReader
	sealer *secrets.Sealer
	cache  cache.Cache
	ttl    time.Duration
}

// NewWallet creates a Wallet. A nil cache or zero ttl disables balance caching.
func NewWallet(chain balanceReader, sealer *secrets.Sealer, c cache.Cache, ttl time.Duration) *Wallet {
	return &Wallet{chain: chain, sealer: sealer, cache: c, ttl: ttl}
}

// Generate creates a secp256k1 key pair and seals the private key.
func (w *Wallet) Generate() (address, sealedKey string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	sealed, err := w.sealer.Seal([]byte(hex.EncodeToString(crypto.FromECDSA(key))))
	if err != nil {
		return "", "", fmt.Errorf("seal key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	slog.Info("generated agent wallet", "address", addr)
	return addr, sealed, nil
}

// Balance returns the native balance of address in ETH.
func (w *Wallet) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("%w: invalid address %q", domain.ErrValidation, address)
	}

	key := "balance." + address // valid as a NATS KV key
	if w.cache != nil && w.ttl > 0 {
		if raw, ok, err := w.cache.Get(ctx, key); err == nil && ok {
			if d, err := decimal.NewFromString(string(raw)); err == nil {
				return d, nil
			}
		}
	}

	wei, err := w.chain.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s: %w", address, err)
	}
	bal := fromWei(wei)

	if w.cache != nil && w.ttl > 0 {
		if err := w.cache.Set(ctx, key, []byte(bal.String()), w.ttl); err != nil {
			slog.Debug("balance cache set failed", "address", address, "error", err)
		}
	}
	return bal, nil
}

// CanAfford reports whether address holds at least amount ETH, compared in wei.
func (w *Wallet) CanAfford(ctx context.Context, address string, amount decimal.Decimal) (bool, error) {
	bal, err := w.Balance(ctx, address)
	if err != nil {
		return false, err
	}
	return toWei(bal).Cmp(toWei(amount)) >= 0, nil
}
