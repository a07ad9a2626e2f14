package services

import (
	"math"
	"strconv"
	"strings"

	"hk-cultural-events/internal/models"
)

// Field name candidates, probed in order. Upstream has published several
// capitalisations of the same field over time.
var (
	latitudeKeys   = []string{"latitude", "Latitude", "lat"}
	longitudeKeys  = []string{"longitude", "Longitude", "long", "lng"}
	venueRefKeys   = []string{"venueid", "venueId"}
	presenterKeys  = []string{"presentere", "presenterE", "presenter"}
	inlineDateKeys = []string{"predateE", "predatee"}
	dateEntryKeys  = []string{"indate", "date", "datetime"}
)

// NormalizeVenues extracts id, English name and coordinates from every
// <venue> element. Nothing is rejected here; a missing name stays "".
func NormalizeVenues(root *Node) []models.RawVenue {
	nodes := VenueNodes(root)
	venues := make([]models.RawVenue, 0, len(nodes))
	for _, n := range nodes {
		venues = append(venues, models.RawVenue{
			ID:        n.Attr("id"),
			Name:      n.Text("venuee"),
			Latitude:  parseCoordinate(n.FirstText(latitudeKeys...)),
			Longitude: parseCoordinate(n.FirstText(longitudeKeys...)),
		})
	}
	return venues
}

// parseCoordinate reads the leading decimal number of s, ignoring anything
// after it ("22.3N" is 22.3). It returns nil when s does not start with a
// number or the number is not finite.
func parseCoordinate(s string) *float64 {
	num := leadingNumber(strings.TrimSpace(s))
	if num == "" {
		return nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// leadingNumber returns the longest prefix of s of the form
// [+-]digits[.digits][(e|E)[+-]digits], or "" if s has no leading digits.
func leadingNumber(s string) string {
	isDigit := func(c byte) bool { return c >= '0' && c <= '9' }

	i, digits := 0, 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}

	end := i
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		if k > j {
			end = k
		}
	}
	return s[:end]
}

// BuildEventDates maps event id to its date labels from the event-dates feed.
// Within one event, every indate entry comes first, then date, then datetime.
func BuildEventDates(root *Node) map[string][]string {
	dates := make(map[string][]string)
	for _, n := range EventDateNodes(root) {
		id := n.Attr("id")
		if id == "" {
			continue
		}
		var labels []string
		for _, key := range dateEntryKeys {
			for _, c := range n.ChildrenNamed(key) {
				if s := strings.TrimSpace(c.Content); s != "" {
					labels = append(labels, s)
				}
			}
		}
		dates[id] = labels
	}
	return dates
}

// NormalizeEvents extracts events, applies defaults and resolves each
// schedule. Events without an id, venue id or title are dropped.
func NormalizeEvents(root *Node, dates map[string][]string) []models.RawEvent {
	nodes := EventNodes(root)
	events := make([]models.RawEvent, 0, len(nodes))
	for _, n := range nodes {
		ev := models.RawEvent{
			ID:          n.Attr("id"),
			VenueID:     n.FirstText(venueRefKeys...),
			Title:       n.Text("titlee"),
			Description: n.Text("desce"),
			Presenter:   n.FirstText(presenterKeys...),
		}
		if ev.ID == "" || ev.VenueID == "" || ev.Title == "" {
			continue
		}
		if ev.Description == "" {
			ev.Description = models.DefaultDescription
		}
		if ev.Presenter == "" {
			ev.Presenter = models.DefaultPresenter
		}
		ev.DateTime = ResolveSchedule(n.FirstText(inlineDateKeys...), dates[ev.ID])
		events = append(events, ev)
	}
	return events
}

// ResolveSchedule prefers the inline schedule, then the joined date labels,
// then the unscheduled marker.
func ResolveSchedule(inline string, dates []string) string {
	if inline = strings.TrimSpace(inline); inline != "" {
		return inline
	}
	if len(dates) > 0 {
		return strings.Join(dates, ", ")
	}
	return models.UnscheduledMarker
}

// GroupEventsByVenue indexes events by the external id of their venue,
// preserving feed order within each venue.
func GroupEventsByVenue(events []models.RawEvent) map[string][]models.RawEvent {
	byVenue := make(map[string][]models.RawEvent)
	for _, ev := range events {
		byVenue[ev.VenueID] = append(byVenue[ev.VenueID], ev)
	}
	return byVenue
}
