package ingest

import (
	"log/slog"
	"sort"
)

// Candidate is a remote archive file eligible for ingestion, with the time
// period parsed out of its name.
type Candidate struct {
	Name   string
	Period int
}

// ParseCandidates turns raw listing names into Candidates using the
// dataset's period-extraction rule, sorted ascending by period. Names that
// fail extraction are dropped, not fatal: the NCEI directories carry readme
// and checksum files alongside the data.
func ParseCandidates(names []string, periodFromName func(string) (int, bool), logger *slog.Logger) []Candidate {
	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		period, ok := periodFromName(name)
		if !ok {
			logger.Debug("Skipping file with unrecognised name.", slog.String("file", name))
			continue
		}
		candidates = append(candidates, Candidate{Name: name, Period: period})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Period != candidates[j].Period {
			return candidates[i].Period < candidates[j].Period
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates
}

// Filter narrows candidates to those at or above the explicit lower bound
// and the watermark. The watermark period itself is retained: the
// coordinator truncates that period's rows first, so it must be re-fetched
// and re-loaded for a clean, duplicate-free resume.
func Filter(candidates []Candidate, since int, haveSince bool, watermark int, haveWatermark bool) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if haveSince && c.Period < since {
			continue
		}
		if haveWatermark && c.Period < watermark {
			continue
		}
		out = append(out, c)
	}
	return out
}
