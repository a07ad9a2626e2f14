package models

import (
	"fmt"
	"time"
)

// Entity type constants for the catalog table
const (
	EntityTypeVenue   = "VENUE"
	EntityTypeEvent   = "EVENT"
	EntityTypeMeta    = "META"
	EntityTypeLock    = "LOCK"
	EntityTypeUser    = "USER"
	EntityTypeSession = "SESSION"
)

// Sort key constants
const (
	SortKeyMetadata = "METADATA"
)

// Region is the coarse geographic area a venue belongs to
type Region string

const (
	RegionHongKong       Region = "hongkong"
	RegionKowloon        Region = "kowloon"
	RegionNewTerritories Region = "newterritories"
	RegionOthers         Region = "others"
)

// Default values applied to events whose feed entry omits them
const (
	DefaultDescription = "No description"
	DefaultPresenter   = "LCSD"
	UnscheduledMarker  = "TBA"
)

// Venue is the canonical, persisted representation of a feed venue
type Venue struct {
	// Primary Keys
	PK string `json:"-" dynamodbav:"PK"` // VENUE#{venue_id}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	ID          string    `json:"id" dynamodbav:"internal_id"` // store-assigned identifier, referenced by events
	VenueID     string    `json:"venueId" dynamodbav:"venue_id"` // external feed identifier, unique
	Name        string    `json:"name" dynamodbav:"name"`
	Latitude    float64   `json:"latitude" dynamodbav:"latitude"`
	Longitude   float64   `json:"longitude" dynamodbav:"longitude"`
	Region      Region    `json:"region" dynamodbav:"region"`
	Events      []string  `json:"events" dynamodbav:"events"` // internal ids of linked events
	LastUpdated time.Time `json:"lastUpdated" dynamodbav:"last_updated"`
}

// Event is the canonical, persisted representation of a feed event
type Event struct {
	// Primary Keys
	PK string `json:"-" dynamodbav:"PK"` // EVENT#{event_id}
	SK string `json:"-" dynamodbav:"SK"` // METADATA

	EntityType string `json:"-" dynamodbav:"entity_type"`

	ID          string    `json:"id" dynamodbav:"internal_id"`
	EventID     string    `json:"eventId" dynamodbav:"event_id"` // external feed identifier, unique
	Title       string    `json:"title" dynamodbav:"title"`
	Description string    `json:"description" dynamodbav:"description"`
	Presenter   string    `json:"presenter" dynamodbav:"presenter"`
	DateTime    string    `json:"dateTime" dynamodbav:"date_time"` // free-form schedule text
	Venue       string    `json:"venue" dynamodbav:"venue"`       // internal id of the owning venue
	VenueID     string    `json:"venueId" dynamodbav:"venue_id"`  // external id of the owning venue
	LastUpdated time.Time `json:"lastUpdated" dynamodbav:"last_updated"`
}

// Validate checks the fields required before a venue can be written
func (v *Venue) Validate() error {
	if v.VenueID == "" {
		return fmt.Errorf("venue_id is required")
	}
	if v.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Validate checks the fields required before an event can be written
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if e.Venue == "" {
		return fmt.Errorf("venue reference is required")
	}
	return nil
}

// Helper functions to create primary keys
func CreateVenuePK(venueID string) string {
	return EntityTypeVenue + "#" + venueID
}

func CreateEventPK(eventID string) string {
	return EntityTypeEvent + "#" + eventID
}

func CreateMetaPK(key string) string {
	return EntityTypeMeta + "#" + key
}

func CreateLockPK(name string) string {
	return EntityTypeLock + "#" + name
}

func CreateUserPK(username string) string {
	return EntityTypeUser + "#" + username
}

func CreateSessionPK(sessionID string) string {
	return EntityTypeSession + "#" + sessionID
}
