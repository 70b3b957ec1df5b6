package models

import "time"

// SyncState tracks whether a saved location has been confirmed by the backend.
type SyncState string

const (
	SyncSynced   SyncState = "synced"
	SyncPending  SyncState = "pending"
	SyncUnsynced SyncState = "unsynced"
)

// SavedLocation is a user-owned named coordinate pair.
type SavedLocation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Country    string    `json:"country"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	IsFavorite bool      `json:"is_favorite"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Sync       SyncState `json:"sync,omitempty"`
}

// LocationPatch is a partial SavedLocation. Nil fields are left untouched by Apply.
type LocationPatch struct {
	ID         *string    `json:"id,omitempty"`
	Name       *string    `json:"name,omitempty"`
	Country    *string    `json:"country,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lon        *float64   `json:"lon,omitempty"`
	IsFavorite *bool      `json:"is_favorite,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	Sync       *SyncState `json:"sync,omitempty"`
}

// Apply returns loc with every non-nil patch field merged in.
func (p LocationPatch) Apply(loc SavedLocation) SavedLocation {
	if p.ID != nil {
		loc.ID = *p.ID
	}
	if p.Name != nil {
		loc.Name = *p.Name
	}
	if p.Country != nil {
		loc.Country = *p.Country
	}
	if p.Lat != nil {
		loc.Lat = *p.Lat
	}
	if p.Lon != nil {
		loc.Lon = *p.Lon
	}
	if p.IsFavorite != nil {
		loc.IsFavorite = *p.IsFavorite
	}
	if p.UpdatedAt != nil {
		loc.UpdatedAt = *p.UpdatedAt
	}
	if p.Sync != nil {
		loc.Sync = *p.Sync
	}
	return loc
}

// IsEmpty reports whether the patch changes nothing.
func (p LocationPatch) IsEmpty() bool {
	return p.ID == nil && p.Name == nil && p.Country == nil && p.Lat == nil &&
		p.Lon == nil && p.IsFavorite == nil && p.UpdatedAt == nil && p.Sync == nil
}

// HistoryRecord is a persisted weather reading for a saved location.
type HistoryRecord struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LocationID  string    `json:"location_id"`
	Temperature float64   `json:"temperature"`
	Condition   string    `json:"condition"`
	Timestamp   time.Time `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

// Insight is an AI-generated summary for a (weather, location) pair.
// Fallback is true when the generator could not produce a usable answer and the fixed default was used.
type Insight struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LocationID  string    `json:"location_id"`
	Insight     string    `json:"insight"`
	Suggestions []string  `json:"suggestions"`
	Fallback    bool      `json:"fallback"`
	CreatedAt   time.Time `json:"created_at"`
}
