package domain

// AssembleStats counts what assembly merged and dropped.
type AssembleStats struct {
	Positives  int
	Negatives  int
	Collisions int // negatives sharing a discrete key with a positive
	Total      int
}

// Assemble merges positives and negatives into the final ordered dataset.
// A negative that collapsed onto a positive's discretized location and day
// is dropped even if synthesis validation let it through.
func Assemble(positives, negatives []Sample) ([]Sample, AssembleStats) {
	stats := AssembleStats{Positives: len(positives), Negatives: len(negatives)}

	posKeys := make(map[string]bool, len(positives))
	for _, p := range positives {
		posKeys[p.DiscreteKey()] = true
	}

	out := make([]Sample, 0, len(positives)+len(negatives))
	out = append(out, positives...)
	for _, n := range negatives {
		if posKeys[n.DiscreteKey()] {
			stats.Collisions++
			continue
		}
		out = append(out, n)
	}
	SortSamples(out)
	stats.Total = len(out)
	return out, stats
}
