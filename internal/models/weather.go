package models

import "time"

// Reading is a single set of conditions: the current observation, one hour, or one day.
// Daily readings carry TempMin/TempMax; hourly and current readings usually leave them equal to Temp.
type Reading struct {
	Dt          int64    `json:"dt"`
	ID          int      `json:"id"`
	Main        string   `json:"main"`
	Description string   `json:"description"`
	Icon        string   `json:"icon"`
	Temp        float64  `json:"temp"`
	FeelsLike   float64  `json:"feels_like"`
	TempMin     float64  `json:"temp_min"`
	TempMax     float64  `json:"temp_max"`
	Humidity    int      `json:"humidity"`
	Pressure    int      `json:"pressure"`
	WindSpeed   float64  `json:"wind_speed"`
	WindDeg     int      `json:"wind_deg"`
	Clouds      int      `json:"clouds"`
	Visibility  int      `json:"visibility"`
	UVI         float64  `json:"uvi"`
	Rain        *float64 `json:"rain,omitempty"`
	Snow        *float64 `json:"snow,omitempty"`
}

// Alert is a government weather alert attached to a snapshot.
type Alert struct {
	SenderName  string `json:"sender_name"`
	Event       string `json:"event"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Description string `json:"description"`
}

// WeatherSnapshot is the complete reading set for one location at one fetch time.
// A new fetch replaces the previous snapshot wholesale.
type WeatherSnapshot struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timezone  string    `json:"timezone"`
	Current   Reading   `json:"current"`
	Hourly    []Reading `json:"hourly"`
	Daily     []Reading `json:"daily"`
	Alerts    []Alert   `json:"alerts,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Today returns the first daily reading, if any.
func (s WeatherSnapshot) Today() (Reading, bool) {
	if len(s.Daily) == 0 {
		return Reading{}, false
	}
	return s.Daily[0], true
}

// GeoLocation is one geocoding match.
type GeoLocation struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
