package backfill

// Detector classifies skipped heights between consecutive observations.
// It makes no upstream calls.
type Detector struct {
	maxGap uint64
}

// NewDetector creates a detector; maxGap 0 means unbounded.
func NewDetector(maxGap uint64) *Detector {
	return &Detector{maxGap: maxGap}
}

// Detect returns the heights to reconcile between prev and curr, and how
// many older heights were dropped by the cap. ok is false when curr does
// not skip anything.
func (d *Detector) Detect(prev, curr uint64) (gap Gap, clamped uint64, ok bool) {
	if curr <= prev+1 {
		return Gap{}, 0, false
	}

	gap = Gap{FromBlock: prev + 1, ToBlock: curr - 1}
	if d.maxGap > 0 && gap.Len() > d.maxGap {
		clamped = gap.Len() - d.maxGap
		gap.FromBlock = gap.ToBlock - d.maxGap + 1
	}
	return gap, clamped, true
}
