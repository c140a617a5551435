package query

import "github.com/vietddude/gaswatch/internal/core/domain"

// Sample keeps every stride-th record of rows, which must be ordered by
// height. The stride grows past base when needed so the result never
// exceeds maxPoints. Output depends only on the input order.
func Sample(rows []*domain.BlockRecord, base, maxPoints int) []*domain.BlockRecord {
	stride := max(base, 1)
	if maxPoints > 0 {
		stride = max(stride, (len(rows)+maxPoints-1)/maxPoints)
	}
	if stride == 1 {
		return rows
	}

	out := make([]*domain.BlockRecord, 0, (len(rows)+stride-1)/stride)
	for i := 0; i < len(rows); i += stride {
		out = append(out, rows[i])
	}
	return out
}
