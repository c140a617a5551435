package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
	"github.com/vietddude/gaswatch/internal/infra/rpc/routing"
)

// ErrBlockNotFound is returned when the node has no block at a height.
var ErrBlockNotFound = errors.New("block not found")

type rpcBlock struct {
	Number        string  `json:"number"`
	Timestamp     string  `json:"timestamp"`
	BaseFeePerGas *string `json:"baseFeePerGas"`
}

// ChainFeed reads chain status and gas price from an Ethereum JSON-RPC node.
type ChainFeed struct {
	provider *provider.HTTPProvider
	retry    routing.RetryConfig
	timeout  time.Duration
}

func NewChainFeed(url string, timeout time.Duration, retry routing.RetryConfig) *ChainFeed {
	return &ChainFeed{
		provider: provider.NewHTTPProvider("chain", url, timeout),
		retry:    retry,
		timeout:  timeout,
	}
}

// Provider exposes the underlying endpoint for health reporting.
func (f *ChainFeed) Provider() provider.Provider {
	return f.provider
}

// Latest returns the newest block with the current gas price.
// A gas price failure leaves ActualPrice nil and is reported in PriceErr.
func (f *ChainFeed) Latest(ctx context.Context) (*Observation, error) {
	block, err := routing.Do(ctx, f.retry, func(ctx context.Context) (*rpcBlock, error) {
		return f.getBlock(ctx, "latest")
	})
	if err != nil {
		return nil, err
	}

	obs, err := block.observation()
	if err != nil {
		return nil, err
	}

	price, err := routing.Do(ctx, f.retry, f.gasPrice)
	if err != nil {
		obs.PriceErr = err
		return obs, nil
	}
	obs.ActualPrice = &price
	return obs, nil
}

// BlockTime looks up the timestamp of a historical height in a single attempt.
func (f *ChainFeed) BlockTime(ctx context.Context, height uint64) (time.Time, error) {
	block, err := f.getBlock(ctx, "0x"+strconv.FormatUint(height, 16))
	if err != nil {
		return time.Time{}, err
	}
	ts, err := parseHexUint(block.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("block %d timestamp: %w", height, err)
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

func (f *ChainFeed) getBlock(ctx context.Context, tag string) (*rpcBlock, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.provider.Call(ctx, "eth_getBlockByNumber", []any{tag, false})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, tag)
	}

	var block rpcBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &block, nil
}

func (f *ChainFeed) gasPrice(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.provider.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil || hex == "" {
		return 0, incomplete("gas price result %s", string(raw))
	}
	gwei, err := weiToGwei(hex)
	if err != nil {
		return 0, routing.Permanent(err)
	}
	return gwei, nil
}

func (b *rpcBlock) observation() (*Observation, error) {
	if b.Number == "" {
		return nil, incomplete("block without number")
	}
	height, err := parseHexUint(b.Number)
	if err != nil {
		return nil, routing.Permanent(err)
	}

	obs := &Observation{Height: height}
	if ts, err := parseHexUint(b.Timestamp); err == nil {
		obs.BlockTime = time.Unix(int64(ts), 0).UTC()
	}
	if b.BaseFeePerGas != nil {
		if fee, err := weiToGwei(*b.BaseFeePerGas); err == nil {
			obs.BaseFee = &fee
		}
	}
	return obs, nil
}
