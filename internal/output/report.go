package output

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// UnitFailure records one fetch unit that failed after its retry budget.
type UnitFailure struct {
	Unit string
	Err  string
}

// Report aggregates the outcome counts of one dataset build. It is rendered
// even when the run fell short of its targets so consumers can detect
// under-sampling.
type Report struct {
	State  string
	County string
	Years  int
	Months int

	Regions int
	Spans   int

	Extract   domain.ExtractStats
	Synthesis domain.SynthesisStats
	Assemble  domain.AssembleStats

	Ratio float64

	Samples   int
	Published int

	UnitFailures []UnitFailure

	CacheHits   int64
	CacheMisses int64

	CSVPath     string
	ParquetPath string
	Duration    time.Duration
	Workers     int
}

// AchievedRatio is negatives over positives in the final dataset.
func (r Report) AchievedRatio() float64 {
	if r.Assemble.Positives == 0 {
		return 0
	}
	return float64(r.Assemble.Negatives) / float64(r.Assemble.Positives)
}

// RenderReport writes the human-readable run report.
func RenderReport(w io.Writer, r Report) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()

	table.Header([]string{"Stage", "Metric", "Count"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	count := func(n int) string { return strconv.Itoa(n) }
	flagged := func(n int, paint func(...any) string) string {
		if n == 0 {
			return count(n)
		}
		return paint(count(n))
	}

	negatives := count(r.Synthesis.Produced - r.Synthesis.Deduped)
	if r.Synthesis.Exhausted > 0 {
		negatives = yellow(negatives)
	} else {
		negatives = green(negatives)
	}

	data := [][]string{
		{"fetch", "alert records", count(r.Extract.Alerts)},
		{"fetch", "unit failures", flagged(len(r.UnitFailures), red)},
		{"extract", "below threshold", count(r.Extract.BelowThreshold)},
		{"extract", "unresolvable area", count(r.Extract.Unresolvable)},
		{"extract", "uncorroborated", count(r.Extract.Discarded)},
		{"extract", "duplicates", count(r.Extract.Duplicates)},
		{"extract", "positives", green(count(r.Extract.Positives))},
		{"synthesize", "target", count(r.Synthesis.Target)},
		{"synthesize", "rejected attempts", count(r.Synthesis.Rejected)},
		{"synthesize", "exhausted slots", flagged(r.Synthesis.Exhausted, yellow)},
		{"synthesize", "deduplicated", count(r.Synthesis.Deduped)},
		{"synthesize", "negatives", negatives},
		{"assemble", "label collisions", flagged(r.Assemble.Collisions, yellow)},
		{"assemble", "samples", count(r.Samples)},
	}
	if r.Published > 0 {
		data = append(data, []string{"publish", "messages", count(r.Published)})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Dataset: %d flood, %d no-flood (ratio %.2f, target %.2f)\n",
		r.Assemble.Positives, r.Assemble.Negatives, r.AchievedRatio(), r.Ratio); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Cache: %d hits, %d misses across %d regions and %d month spans\n",
		r.CacheHits, r.CacheMisses, r.Regions, r.Spans); err != nil {
		return err
	}
	if r.CSVPath != "" {
		if _, err := fmt.Fprintf(w, "Wrote %s\n", r.CSVPath); err != nil {
			return err
		}
	}
	if r.ParquetPath != "" {
		if _, err := fmt.Fprintf(w, "Wrote %s\n", r.ParquetPath); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Build completed in %v with %d workers\n", r.Duration, r.Workers); err != nil {
		return err
	}

	for _, f := range r.UnitFailures {
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", red("FAILED"), f.Unit, f.Err); err != nil {
			return err
		}
	}

	return nil
}
