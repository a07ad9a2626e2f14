package models

// RawVenue is a venue node after field extraction but before selection.
// Coordinates are nil when the feed value is missing or not a finite number.
type RawVenue struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// HasCoordinates reports whether both coordinates were present in the feed
func (v RawVenue) HasCoordinates() bool {
	return v.Latitude != nil && v.Longitude != nil
}

// RawEvent is an event node with defaults applied and its schedule resolved
type RawEvent struct {
	ID          string `json:"id"`
	VenueID     string `json:"venueId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Presenter   string `json:"presenter"`
	DateTime    string `json:"dateTime"`
}
