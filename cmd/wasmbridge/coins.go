package main

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/CosmWasm/wasmbridge/types"
)

// parseCoins reads a comma separated list like "100ucosm,5uatom".
func parseCoins(s string) ([]types.Coin, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var coins []types.Coin
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		split := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' })
		if split <= 0 {
			return nil, fmt.Errorf("invalid coin %q", part)
		}
		amount, denom := part[:split], part[split:]
		if _, err := uint256.FromDecimal(amount); err != nil {
			return nil, fmt.Errorf("invalid coin %q: %w", part, err)
		}
		coins = append(coins, types.Coin{Denom: denom, Amount: amount})
	}
	return coins, nil
}
