// Package feed decodes the upstream gas price sources into block records.
package feed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vietddude/gaswatch/internal/infra/rpc/routing"
)

// ErrIncompleteResponse marks a well-formed payload that lacks the data
// needed to build a record. It is never retried.
var ErrIncompleteResponse = errors.New("incomplete feed response")

func incomplete(format string, args ...any) error {
	return routing.Permanent(fmt.Errorf("%w: %s", ErrIncompleteResponse, fmt.Sprintf(format, args...)))
}

// Observation is a partial record reported by the chain feed.
type Observation struct {
	Height      uint64
	BlockTime   time.Time
	BaseFee     *float64 // gwei
	ActualPrice *float64 // gwei
	PriceErr    error
}

var weiPerGwei = big.NewFloat(1e9)

// parseHexUint decodes a 0x-prefixed quantity.
func parseHexUint(s string) (uint64, error) {
	n, err := parseHexBig(s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("quantity %s overflows uint64", s)
	}
	return n.Uint64(), nil
}

func parseHexBig(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("quantity %q missing 0x prefix", s)
	}
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

// weiToGwei converts a hex wei quantity to gwei.
func weiToGwei(s string) (float64, error) {
	n, err := parseHexBig(s)
	if err != nil {
		return 0, err
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), weiPerGwei).Float64()
	return f, nil
}
