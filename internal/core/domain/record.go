package domain

import "time"

// Confidence is a prediction confidence level in percent.
type Confidence int

const (
	Confidence50 Confidence = 50
	Confidence70 Confidence = 70
	Confidence90 Confidence = 90
	Confidence99 Confidence = 99
)

// Confidences lists the supported levels in ascending order.
var Confidences = []Confidence{Confidence50, Confidence70, Confidence90, Confidence99}

// Valid reports whether c is one of the supported levels.
func (c Confidence) Valid() bool {
	switch c {
	case Confidence50, Confidence70, Confidence90, Confidence99:
		return true
	}
	return false
}

// BlockRecord is the reconciled view of one block height.
// Nil pointers mean "not observed yet".
type BlockRecord struct {
	Height      uint64    `json:"height"`
	ObservedAt  time.Time `json:"observed_at"`
	BaseFee     *float64  `json:"base_fee,omitempty"`
	Predicted50 *float64  `json:"predicted_50,omitempty"`
	Predicted70 *float64  `json:"predicted_70,omitempty"`
	Predicted90 *float64  `json:"predicted_90,omitempty"`
	Predicted99 *float64  `json:"predicted_99,omitempty"`
	ActualPrice *float64  `json:"actual_price,omitempty"`
}

// Predicted returns the prediction for the given confidence level.
func (r *BlockRecord) Predicted(c Confidence) *float64 {
	switch c {
	case Confidence50:
		return r.Predicted50
	case Confidence70:
		return r.Predicted70
	case Confidence90:
		return r.Predicted90
	case Confidence99:
		return r.Predicted99
	}
	return nil
}

// SetPredicted stores a prediction for the given confidence level.
// Unsupported levels are ignored.
func (r *BlockRecord) SetPredicted(c Confidence, v float64) {
	switch c {
	case Confidence50:
		r.Predicted50 = &v
	case Confidence70:
		r.Predicted70 = &v
	case Confidence90:
		r.Predicted90 = &v
	case Confidence99:
		r.Predicted99 = &v
	}
}

// HasPrediction reports whether any confidence level is set.
func (r *BlockRecord) HasPrediction() bool {
	return r.Predicted50 != nil || r.Predicted70 != nil || r.Predicted90 != nil || r.Predicted99 != nil
}

// IsPlaceholder reports whether only the height and timestamp are known.
func (r *BlockRecord) IsPlaceholder() bool {
	return r.BaseFee == nil && !r.HasPrediction() && r.ActualPrice == nil
}

// Merge applies the set fields of patch onto r.
// Value fields are last-writer-wins; ObservedAt keeps the first non-zero value.
func (r *BlockRecord) Merge(patch *BlockRecord) {
	if patch == nil {
		return
	}
	if r.ObservedAt.IsZero() {
		r.ObservedAt = patch.ObservedAt
	}
	r.BaseFee = pick(r.BaseFee, patch.BaseFee)
	r.Predicted50 = pick(r.Predicted50, patch.Predicted50)
	r.Predicted70 = pick(r.Predicted70, patch.Predicted70)
	r.Predicted90 = pick(r.Predicted90, patch.Predicted90)
	r.Predicted99 = pick(r.Predicted99, patch.Predicted99)
	r.ActualPrice = pick(r.ActualPrice, patch.ActualPrice)
}

// Clone returns a deep copy.
func (r *BlockRecord) Clone() *BlockRecord {
	if r == nil {
		return nil
	}
	c := &BlockRecord{Height: r.Height, ObservedAt: r.ObservedAt}
	c.Merge(r)
	return c
}

func pick(cur, next *float64) *float64 {
	if next == nil {
		return cur
	}
	v := *next
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
