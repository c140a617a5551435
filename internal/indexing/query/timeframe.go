package query

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/gaswatch/internal/core/domain"
)

var (
	ErrInvalidTimeframe  = errors.New("invalid range")
	ErrInvalidConfidence = errors.New("invalid confidence")
)

// Timeframe is one of the supported query ranges.
type Timeframe string

const (
	Timeframe1h  Timeframe = "1h"
	Timeframe6h  Timeframe = "6h"
	Timeframe12h Timeframe = "12h"
	Timeframe24h Timeframe = "24h"
	Timeframe72h Timeframe = "72h"
	Timeframe7d  Timeframe = "7d"
)

type timeframeSpec struct {
	window time.Duration
	stride int
}

// base strides hold every range near 300 points at 12s blocks
var timeframes = map[Timeframe]timeframeSpec{
	Timeframe1h:  {time.Hour, 1},
	Timeframe6h:  {6 * time.Hour, 6},
	Timeframe12h: {12 * time.Hour, 12},
	Timeframe24h: {24 * time.Hour, 24},
	Timeframe72h: {72 * time.Hour, 72},
	Timeframe7d:  {7 * 24 * time.Hour, 168},
}

// Timeframes lists the supported ranges, shortest first.
var Timeframes = []Timeframe{Timeframe1h, Timeframe6h, Timeframe12h, Timeframe24h, Timeframe72h, Timeframe7d}

// ParseTimeframe validates s. A missing range is rejected like any other
// unknown value.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframes[tf]; !ok {
		return "", fmt.Errorf("%w %q: must be one of %v", ErrInvalidTimeframe, s, Timeframes)
	}
	return tf, nil
}

// Duration returns how far back the range reaches.
func (t Timeframe) Duration() time.Duration {
	return timeframes[t].window
}

// Stride returns the base sampling stride.
func (t Timeframe) Stride() int {
	return max(timeframes[t].stride, 1)
}

// ParseConfidence validates s. An empty value selects 99.
func ParseConfidence(s string) (domain.Confidence, error) {
	if s == "" {
		return domain.Confidence99, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !domain.Confidence(n).Valid() {
		return 0, fmt.Errorf("%w %q: must be one of %v", ErrInvalidConfidence, s, domain.Confidences)
	}
	return domain.Confidence(n), nil
}
