package insight

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/weather-insight-service/internal/models"
)

// BuildInsightPrompt renders the weather-insight prompt. Today's high/low is included only when the
// snapshot carries a daily forecast.
func BuildInsightPrompt(snap models.WeatherSnapshot, location string) string {
	c := snap.Current
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly weather assistant. Analyze the following weather data for %s and provide:\n", location)
	b.WriteString("1. A brief, insightful description of the current weather\n")
	b.WriteString("2. 3-5 practical suggestions based on the weather conditions\n\n")
	b.WriteString("Weather Data:\n")
	fmt.Fprintf(&b, "- Current Temperature: %s°C (feels like %s°C)\n", num(c.Temp), num(c.FeelsLike))
	fmt.Fprintf(&b, "- Condition: %s - %s\n", c.Main, c.Description)
	fmt.Fprintf(&b, "- Humidity: %d%%\n", c.Humidity)
	fmt.Fprintf(&b, "- Wind Speed: %s m/s\n", num(c.WindSpeed))
	fmt.Fprintf(&b, "- Visibility: %d meters\n", c.Visibility)
	fmt.Fprintf(&b, "- UV Index: %s\n", num(c.UVI))
	if today, ok := snap.Today(); ok {
		fmt.Fprintf(&b, "- High/Low Today: %s°C / %s°C\n", num(today.TempMax), num(today.TempMin))
	}
	b.WriteString("\nPlease provide your response in the following JSON format:\n")
	b.WriteString("{\n  \"insight\": \"A friendly, informative description of the weather\",\n")
	b.WriteString("  \"suggestions\": [\"suggestion 1\", \"suggestion 2\", \"suggestion 3\"]\n}\n")
	return b.String()
}

// BuildActivitiesPrompt renders the activity-recommendation prompt.
func BuildActivitiesPrompt(snap models.WeatherSnapshot, location string) string {
	c := snap.Current
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the following weather in %s, suggest 3-5 indoor and outdoor activities:\n\n", location)
	fmt.Fprintf(&b, "Temperature: %s°C\n", num(c.Temp))
	fmt.Fprintf(&b, "Condition: %s\n", c.Main)
	fmt.Fprintf(&b, "Humidity: %d%%\n", c.Humidity)
	fmt.Fprintf(&b, "Wind Speed: %s m/s\n\n", num(c.WindSpeed))
	b.WriteString("Provide ONLY a JSON array of activity suggestions:\n")
	b.WriteString("[\"activity 1\", \"activity 2\", \"activity 3\"]\n")
	return b.String()
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
