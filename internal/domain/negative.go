package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// SynthesisOptions tunes negative-sample generation.
type SynthesisOptions struct {
	Ratio             float64       // negatives per positive
	RadiusKM          float64       // exclusion radius R
	Window            time.Duration // exclusion half-width T
	MaxDisplacementKM float64       // upper bound on the spatial shift
	MaxTimeShift      time.Duration // upper bound on the temporal shift
	MaxRetries        int           // perturbation attempts per slot
}

// SynthesisStats reports the fate of every candidate slot.
type SynthesisStats struct {
	Target    int
	Produced  int // accepted candidates before dedup
	Rejected  int // attempts that failed validation
	Exhausted int // slots dropped after the retry budget ran out
	Deduped   int // candidates collapsed by the discrete-key pass
}

// GenerateNegatives synthesizes non-flood samples by perturbing positives.
// The target count is ceil(Ratio * len(positives)); slot j draws from
// positive j mod n. Every offset is derived from a SHA-256 hash of the
// positive's ID and an attempt counter, so the same positives always yield
// the same negatives. Candidates must land inside the window and region and
// outside every positive's exclusion zone; a slot whose retry budget runs
// out is dropped and the run continues. A final pass collapses candidates
// sharing a discretized location and day, then sorts into canonical order.
func GenerateNegatives(positives []Sample, region Region, window TimeWindow, idx *ExclusionIndex, opts SynthesisOptions, logger *slog.Logger) ([]Sample, SynthesisStats) {
	var stats SynthesisStats
	if len(positives) == 0 {
		return nil, stats
	}
	stats.Target = int(math.Ceil(opts.Ratio * float64(len(positives))))

	var out []Sample
	for slot := 0; slot < stats.Target; slot++ {
		p := positives[slot%len(positives)]
		candidate := slot / len(positives)
		s, failed, ok := synthesize(p, candidate, region, window, idx, opts)
		stats.Rejected += failed
		if !ok {
			stats.Exhausted++
			logger.Warn("negative synthesis exhausted",
				"positive_id", p.ID,
				"candidate", candidate,
				"attempts", opts.MaxRetries,
			)
			continue
		}
		out = append(out, s)
	}
	stats.Produced = len(out)

	seen := make(map[string]bool, len(out))
	deduped := out[:0]
	for _, s := range out {
		k := s.DiscreteKey()
		if seen[k] {
			stats.Deduped++
			continue
		}
		seen[k] = true
		deduped = append(deduped, s)
	}
	SortSamples(deduped)
	return deduped, stats
}

// synthesize derives candidates for one slot, incrementing the attempt
// counter on each rejection, until one clears validation or the budget runs
// out. Returns the number of failed attempts alongside the sample.
func synthesize(p Sample, candidate int, region Region, window TimeWindow, idx *ExclusionIndex, opts SynthesisOptions) (Sample, int, bool) {
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		g, at := perturb(p, candidate, attempt, opts)
		if !window.Contains(at) {
			continue
		}
		if !region.Contains(g, opts.MaxDisplacementKM) {
			continue
		}
		if idx.Excluded(g, at) {
			continue
		}
		s := NewSample(LabelNoFlood, g.Lat, g.Lon, at, fmt.Sprintf("synthetic:%s:%d:%d", p.ID, candidate, attempt))
		return s, attempt, true
	}
	return Sample{}, opts.MaxRetries, false
}

// perturb derives a spatiotemporal offset from the positive's identity. The
// displacement lands in (R, MaxDisplacementKM] and the time shift magnitude
// in (T, MaxTimeShift], so a candidate never sits inside its own source's
// exclusion zone.
func perturb(p Sample, candidate, attempt int, opts SynthesisOptions) (Geo, time.Time) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", p.ID, candidate, attempt)))

	bearing := unitFraction(sum[0:8]) * 2 * math.Pi
	distKM := opts.RadiusKM + unitFraction(sum[8:16])*(opts.MaxDisplacementKM-opts.RadiusKM)
	shift := time.Duration(float64(opts.Window) + unitFraction(sum[16:24])*float64(opts.MaxTimeShift-opts.Window))
	if sum[24]&1 == 1 {
		shift = -shift
	}

	dLat := distKM * math.Cos(bearing) / kmPerDegreeLat
	lonScale := kmPerDegreeLonEq * math.Cos(p.Lat*math.Pi/180)
	if lonScale < 1 {
		lonScale = 1
	}
	dLon := distKM * math.Sin(bearing) / lonScale
	return Geo{Lat: p.Lat + dLat, Lon: p.Lon + dLon}, p.Timestamp.Add(shift).UTC()
}

// unitFraction maps 8 hash bytes to a fraction in (0, 1].
func unitFraction(b []byte) float64 {
	v := binary.BigEndian.Uint64(b)
	return (float64(v) + 1) / (1 << 64)
}
