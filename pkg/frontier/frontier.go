package frontier

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/parse"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

// Source is one lazy discovery stream. ok is false once the source is exhausted.
type Source interface {
	Name() models.Source
	Next(ctx context.Context) (c models.CandidateURL, ok bool, err error)
}

// VisitedMarker is the run-scoped dedup set, see storage.VisitedSet
type VisitedMarker interface {
	MarkVisited(normalizedURL string) (bool, error)
}

// Stats counts what the frontier emitted
type Stats struct {
	Emitted    int                   `json:"emitted"`
	Duplicates int                   `json:"duplicates"`
	Invalid    int                   `json:"invalid"`
	BySource   map[models.Source]int `json:"by_source"`
}

// Frontier concatenates its sources in priority order and drops URLs already emitted in this run.
// The sequence is finite and cannot be restarted. The listing cap is not enforced here.
type Frontier struct {
	sources []Source
	current int
	visited VisitedMarker
	log     *logrus.Entry
	stats   Stats
}

// New creates a Frontier draining sources in the given order
func New(sources []Source, visited VisitedMarker, log *logrus.Entry) *Frontier {
	return &Frontier{
		sources: sources,
		visited: visited,
		log:     log.WithField("component", "frontier"),
		stats:   Stats{BySource: make(map[models.Source]int)},
	}
}

// Next returns the next unvisited candidate. ok is false when every source is exhausted.
func (f *Frontier) Next(ctx context.Context) (models.CandidateURL, bool, error) {
	for f.current < len(f.sources) {
		if err := ctx.Err(); err != nil {
			return models.CandidateURL{}, false, err
		}
		src := f.sources[f.current]
		c, ok, err := src.Next(ctx)
		if err != nil {
			return models.CandidateURL{}, false, err
		}
		if !ok {
			f.log.WithField("source", src.Name()).Infof("Source exhausted after %d candidates", f.stats.BySource[src.Name()])
			f.current++
			continue
		}

		key, _, err := parse.ParseAndNormalize(c.URL)
		if err != nil {
			f.stats.Invalid++
			f.log.WithField("url", c.URL).Warnf("Dropping candidate with invalid URL: %v", err)
			continue
		}
		added, err := f.visited.MarkVisited(key)
		if err != nil {
			return models.CandidateURL{}, false, fmt.Errorf("%w: frontier visited set: %w", utils.ErrDatabase, err)
		}
		if !added {
			f.stats.Duplicates++
			continue
		}
		if c.Source == "" {
			c.Source = src.Name()
		}
		f.stats.Emitted++
		f.stats.BySource[src.Name()]++
		return c, true, nil
	}
	return models.CandidateURL{}, false, nil
}

// Stats returns a copy of the counters
func (f *Frontier) Stats() Stats {
	s := f.stats
	s.BySource = make(map[models.Source]int, len(f.stats.BySource))
	for k, v := range f.stats.BySource {
		s.BySource[k] = v
	}
	return s
}
