package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"hk-cultural-events/internal/logging"
	"hk-cultural-events/internal/models"
)

const (
	// MinEventsPerVenue is the number of feed events a venue needs to be a candidate
	MinEventsPerVenue = 3

	// DefaultSampleSize is the number of venues kept per import
	DefaultSampleSize = 10
)

// Selection is the subset of the feed that will be written to the catalog
type Selection struct {
	Venues         []models.RawVenue
	Events         []models.RawEvent
	CandidateCount int
	Warnings       []string
}

// Selector draws a uniform random sample of candidate venues
type Selector struct {
	mu         sync.Mutex
	rng        *rand.Rand
	sampleSize int
}

// NewSelector creates a selector. A nil seed draws a fresh sample on every
// import; a seed makes the sequence of samples reproducible.
func NewSelector(seed *uint64, sampleSize int) *Selector {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	var src rand.Source
	if seed != nil {
		src = rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{rng: rand.New(src), sampleSize: sampleSize}
}

// Candidates returns venues with an id, a name, both coordinates and at
// least MinEventsPerVenue events, in feed order.
func Candidates(venues []models.RawVenue, byVenue map[string][]models.RawEvent) []models.RawVenue {
	var out []models.RawVenue
	for _, v := range venues {
		if v.ID == "" || v.Name == "" || !v.HasCoordinates() {
			continue
		}
		if len(byVenue[v.ID]) < MinEventsPerVenue {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Select filters candidates, shuffles the whole candidate list and keeps
// the first SampleSize venues together with their events. Fewer candidates
// than SampleSize is logged and tolerated.
func (s *Selector) Select(ctx context.Context, venues []models.RawVenue, events []models.RawEvent) Selection {
	candidates := Candidates(venues, GroupEventsByVenue(events))
	sel := Selection{CandidateCount: len(candidates)}

	if len(candidates) < s.sampleSize {
		msg := fmt.Sprintf("only %d venues meet the criteria (want %d), importing what is available", len(candidates), s.sampleSize)
		sel.Warnings = append(sel.Warnings, msg)
		logging.Ctx(ctx).Warn().
			Int("candidates", len(candidates)).
			Int("sample_size", s.sampleSize).
			Msg("Fewer candidate venues than sample size")
	}

	s.shuffle(candidates)
	if len(candidates) > s.sampleSize {
		candidates = candidates[:s.sampleSize]
	}
	sel.Venues = candidates

	selected := make(map[string]struct{}, len(candidates))
	for _, v := range candidates {
		selected[v.ID] = struct{}{}
	}
	for _, ev := range events {
		if _, ok := selected[ev.VenueID]; ok {
			sel.Events = append(sel.Events, ev)
		}
	}

	logging.Ctx(ctx).Info().
		Int("candidates", sel.CandidateCount).
		Int("venues", len(sel.Venues)).
		Int("events", len(sel.Events)).
		Msg("Selected venues")
	return sel
}

// shuffle is an in-place Fisher-Yates shuffle
func (s *Selector) shuffle(venues []models.RawVenue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(venues) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		venues[i], venues[j] = venues[j], venues[i]
	}
}
