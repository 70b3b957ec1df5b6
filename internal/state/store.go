// Package state holds the per-session application state shared by every dashboard view:
// the current weather snapshot, saved locations, the active AI insight, and loading/error flags.
//
// All mutators are synchronous and perform no I/O. The store serializes access to its fields
// but does not order logically independent writers: the last mutation to complete wins.
// Callers that need ordering between overlapping fetches use BeginFetch/CompleteFetch/FailFetch,
// which discard completions belonging to superseded fetches.
package state

import (
	"sync"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

// State is a point-in-time copy of the store's fields.
type State struct {
	CurrentWeather   *models.WeatherSnapshot `json:"currentWeather"`
	SelectedLocation *models.SavedLocation   `json:"selectedLocation"`
	SavedLocations   []models.SavedLocation  `json:"savedLocations"`
	IsLoading        bool                    `json:"isLoading"`
	Error            *string                 `json:"error"`
	AIInsight        *models.Insight         `json:"aiInsight"`
}

// Phase derives the loading state machine position from the flags.
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case s.Error != nil:
		return PhaseFailed
	case s.CurrentWeather != nil:
		return PhaseReady
	default:
		return PhaseIdle
	}
}

// Phase is the position in the Idle -> Loading -> Ready | Failed state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Ticket identifies one fenced fetch. Only the newest ticket may complete.
type Ticket uint64

// Store is the state container. Construct with New; the zero value is not usable.
type Store struct {
	mu         sync.Mutex
	st         State
	generation uint64

	listenersMu  sync.Mutex
	listeners    map[int]func(State)
	nextListener int
}

// New returns a store in the initial state.
func New() *Store {
	return &Store{
		st:        initialState(),
		listeners: make(map[int]func(State)),
	}
}

func initialState() State {
	return State{SavedLocations: []models.SavedLocation{}}
}

// Snapshot returns a copy of the current state. Mutating the result does not affect the store.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.clone()
}

// Subscribe registers fn to receive the new state after every mutation that changed something.
// The returned func removes the listener.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// mutate applies fn under the lock. fn reports whether it changed anything; listeners
// run outside the lock only when it did.
func (s *Store) mutate(fn func(st *State) bool) {
	s.mu.Lock()
	changed := fn(&s.st)
	var snap State
	if changed {
		snap = s.st.clone()
	}
	s.mu.Unlock()
	if changed {
		s.notify(snap)
	}
}

func (s *Store) notify(snap State) {
	s.listenersMu.Lock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// SetCurrentWeather replaces the snapshot. Loading and error flags are left alone.
func (s *Store) SetCurrentWeather(snapshot models.WeatherSnapshot) {
	s.mutate(func(st *State) bool {
		st.CurrentWeather = copyWeather(&snapshot)
		return true
	})
}

// SetIsLoading overwrites the loading flag.
func (s *Store) SetIsLoading(loading bool) {
	s.mutate(func(st *State) bool {
		st.IsLoading = loading
		return true
	})
}

// SetError overwrites the error. Pass nil to clear.
func (s *Store) SetError(msg *string) {
	s.mutate(func(st *State) bool {
		st.Error = copyString(msg)
		return true
	})
}

// SetSelectedLocation replaces the selected location. Pass nil to clear.
func (s *Store) SetSelectedLocation(loc *models.SavedLocation) {
	s.mutate(func(st *State) bool {
		st.SelectedLocation = copyLocation(loc)
		return true
	})
}

// SetSavedLocations replaces the whole list.
func (s *Store) SetSavedLocations(locs []models.SavedLocation) {
	s.mutate(func(st *State) bool {
		st.SavedLocations = append(make([]models.SavedLocation, 0, len(locs)), locs...)
		return true
	})
}

// AddSavedLocation prepends loc. Ids are not de-duplicated: adding the same id twice yields two entries.
func (s *Store) AddSavedLocation(loc models.SavedLocation) {
	s.mutate(func(st *State) bool {
		next := make([]models.SavedLocation, 0, len(st.SavedLocations)+1)
		next = append(next, loc)
		st.SavedLocations = append(next, st.SavedLocations...)
		return true
	})
}

// RemoveSavedLocation removes every entry with the given id. Unknown ids are a no-op.
func (s *Store) RemoveSavedLocation(id string) {
	s.mutate(func(st *State) bool {
		next := make([]models.SavedLocation, 0, len(st.SavedLocations))
		for _, loc := range st.SavedLocations {
			if loc.ID != id {
				next = append(next, loc)
			}
		}
		if len(next) == len(st.SavedLocations) {
			return false
		}
		st.SavedLocations = next
		return true
	})
}

// UpdateSavedLocation merges patch into every entry with the given id. Unknown ids are a no-op.
func (s *Store) UpdateSavedLocation(id string, patch models.LocationPatch) {
	s.mutate(func(st *State) bool {
		return updateLocked(st, id, func(loc models.SavedLocation) models.SavedLocation {
			return patch.Apply(loc)
		})
	})
}

// ToggleFavorite flips the favorite flag of the entry with the given id. Unknown ids are a no-op.
func (s *Store) ToggleFavorite(id string) {
	s.mutate(func(st *State) bool {
		return updateLocked(st, id, func(loc models.SavedLocation) models.SavedLocation {
			fav := !loc.IsFavorite
			return models.LocationPatch{IsFavorite: &fav}.Apply(loc)
		})
	})
}

func updateLocked(st *State, id string, fn func(models.SavedLocation) models.SavedLocation) bool {
	found := false
	next := make([]models.SavedLocation, len(st.SavedLocations))
	for i, loc := range st.SavedLocations {
		if loc.ID == id {
			loc = fn(loc)
			found = true
		}
		next[i] = loc
	}
	if found {
		st.SavedLocations = next
	}
	return found
}

// SetAIInsight replaces the active insight. Pass nil to clear.
func (s *Store) SetAIInsight(insight *models.Insight) {
	s.mutate(func(st *State) bool {
		st.AIInsight = copyInsight(insight)
		return true
	})
}

// Reset restores the initial state. Outstanding fetch tickets become stale.
func (s *Store) Reset() {
	s.mutate(func(st *State) bool {
		*st = initialState()
		s.generation++
		return true
	})
}

// BeginFetch marks a fetch as outstanding and returns its ticket.
// Any earlier ticket is superseded. The previous snapshot stays visible until replaced.
func (s *Store) BeginFetch() Ticket {
	var t Ticket
	s.mutate(func(st *State) bool {
		s.generation++
		t = Ticket(s.generation)
		st.IsLoading = true
		return true
	})
	return t
}

// CompleteFetch applies a successful fetch: snapshot set, loading and error cleared.
// Returns false and changes nothing when t has been superseded.
func (s *Store) CompleteFetch(t Ticket, snapshot models.WeatherSnapshot) bool {
	applied := false
	s.mutate(func(st *State) bool {
		if uint64(t) != s.generation {
			return false
		}
		st.CurrentWeather = copyWeather(&snapshot)
		st.IsLoading = false
		st.Error = nil
		applied = true
		return true
	})
	return applied
}

// FailFetch applies a failed fetch: loading cleared, error set, snapshot preserved.
// Returns false and changes nothing when t has been superseded.
func (s *Store) FailFetch(t Ticket, msg string) bool {
	applied := false
	s.mutate(func(st *State) bool {
		if uint64(t) != s.generation {
			return false
		}
		st.IsLoading = false
		st.Error = &msg
		applied = true
		return true
	})
	return applied
}

func (st State) clone() State {
	out := st
	out.SavedLocations = append(make([]models.SavedLocation, 0, len(st.SavedLocations)), st.SavedLocations...)
	out.SelectedLocation = copyLocation(st.SelectedLocation)
	out.Error = copyString(st.Error)
	out.CurrentWeather = copyWeather(st.CurrentWeather)
	out.AIInsight = copyInsight(st.AIInsight)
	return out
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyLocation(p *models.SavedLocation) *models.SavedLocation {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyInsight(p *models.Insight) *models.Insight {
	if p == nil {
		return nil
	}
	v := *p
	v.Suggestions = append([]string(nil), p.Suggestions...)
	return &v
}

func copyWeather(p *models.WeatherSnapshot) *models.WeatherSnapshot {
	if p == nil {
		return nil
	}
	v := *p
	v.Current = copyReading(p.Current)
	v.Hourly = copyReadings(p.Hourly)
	v.Daily = copyReadings(p.Daily)
	if p.Alerts != nil {
		v.Alerts = append([]models.Alert(nil), p.Alerts...)
	}
	return &v
}

func copyReadings(in []models.Reading) []models.Reading {
	if in == nil {
		return nil
	}
	out := make([]models.Reading, len(in))
	for i, r := range in {
		out[i] = copyReading(r)
	}
	return out
}

func copyReading(r models.Reading) models.Reading {
	if r.Rain != nil {
		v := *r.Rain
		r.Rain = &v
	}
	if r.Snow != nil {
		v := *r.Snow
		r.Snow = &v
	}
	return r
}
