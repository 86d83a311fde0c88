package ethereum

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Strob0t/AutoAgent/internal/config"
)

// Dial connects to the configured JSON-RPC endpoint. HTTP endpoints connect
// lazily, so an unreachable node surfaces on first use.
func Dial(ctx context.Context, cfg config.Chain) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return c, nil
}
