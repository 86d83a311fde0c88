// Package wallet defines the port for agent wallets.
package wallet

import (
	"context"

	"github.com/shopspring/decimal"
)

// Wallet creates agent key pairs and answers balance questions.
type Wallet interface {
	// Generate creates a new key pair and returns its address and the
	// private key sealed for storage.
	Generate() (address, sealedKey string, err error)
	// Balance returns the native balance of address in ETH.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	// CanAfford reports whether address holds at least amount ETH.
	CanAfford(ctx context.Context, address string, amount decimal.Decimal) (bool, error)
}
