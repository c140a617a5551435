package feed

import (
	"context"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/rpc/provider"
	"github.com/vietddude/gaswatch/internal/infra/rpc/routing"
)

type blockPricesResponse struct {
	CurrentBlockNumber uint64 `json:"currentBlockNumber"`
	BlockPrices        []struct {
		BlockNumber     *uint64  `json:"blockNumber"`
		BaseFeePerGas   *float64 `json:"baseFeePerGas"`
		EstimatedPrices []struct {
			Confidence int     `json:"confidence"`
			Price      float64 `json:"price"`
		} `json:"estimatedPrices"`
	} `json:"blockPrices"`
}

// PredictiveFeed polls a block price prediction endpoint.
type PredictiveFeed struct {
	provider *provider.HTTPProvider
	retry    routing.RetryConfig
	timeout  time.Duration
	now      func() time.Time
}

// NewPredictiveFeed creates a feed for url. apiKey is sent as Authorization when set.
func NewPredictiveFeed(url, apiKey string, timeout time.Duration, retry routing.RetryConfig) *PredictiveFeed {
	return &PredictiveFeed{
		provider: provider.NewHTTPProvider("predictive", url, timeout).WithHeader("Authorization", apiKey),
		retry:    retry,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Provider exposes the underlying endpoint for health reporting.
func (f *PredictiveFeed) Provider() provider.Provider {
	return f.provider
}

// Fetch returns the predicted record for the next block.
func (f *PredictiveFeed) Fetch(ctx context.Context) (*domain.BlockRecord, error) {
	return routing.Do(ctx, f.retry, func(ctx context.Context) (*domain.BlockRecord, error) {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		var resp blockPricesResponse
		if err := f.provider.GetJSON(ctx, "blockprices", &resp); err != nil {
			return nil, err
		}
		return f.decode(&resp)
	})
}

func (f *PredictiveFeed) decode(resp *blockPricesResponse) (*domain.BlockRecord, error) {
	if len(resp.BlockPrices) == 0 {
		return nil, incomplete("no block prices")
	}
	bp := resp.BlockPrices[0]
	if bp.BlockNumber == nil {
		return nil, incomplete("missing block number")
	}
	if len(bp.EstimatedPrices) == 0 {
		return nil, incomplete("no estimated prices for block %d", *bp.BlockNumber)
	}

	rec := &domain.BlockRecord{
		Height:     *bp.BlockNumber,
		ObservedAt: f.now(),
		BaseFee:    bp.BaseFeePerGas,
	}
	for _, p := range bp.EstimatedPrices {
		rec.SetPredicted(domain.Confidence(p.Confidence), p.Price)
	}
	if !rec.HasPrediction() {
		return nil, incomplete("no supported confidence levels for block %d", rec.Height)
	}
	return rec, nil
}
