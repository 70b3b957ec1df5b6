package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrQueryEmpty is returned when a search query is empty or whitespace-only after trim.
var ErrQueryEmpty = errors.New("query is required")

// ErrQueryTooShort is returned when query length is below the minimum.
var ErrQueryTooShort = errors.New("query too short")

// ErrQueryTooLong is returned when query length exceeds the maximum.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when a query contains disallowed characters.
var ErrQueryInvalidChars = errors.New("query contains invalid characters")

// ErrInvalidCoordinates is returned for missing, non-numeric, non-finite or out-of-range lat/lon.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ErrNameEmpty is returned when a location name is blank.
var ErrNameEmpty = errors.New("name is required")

// ErrNameInvalid is returned when a location name is too long or contains control characters.
var ErrNameInvalid = errors.New("name is invalid")

// ErrInvalidRequest wraps struct validation failures on request bodies.
var ErrInvalidRequest = errors.New("invalid request")

// MaxNameLen bounds saved location names, in runes.
const MaxNameLen = 100

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names so messages match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ValidateQuery trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to characters that occur in place names: letters (Unicode), digits,
// space, comma, hyphen, period, apostrophe.
func ValidateQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrQueryEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	for _, c := range r {
		if !isAllowedQueryRune(c) {
			return "", ErrQueryInvalidChars
		}
	}
	return s, nil
}

func isAllowedQueryRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ValidateName trims a saved location name and rejects blank, overlong or control-character names.
func ValidateName(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrNameEmpty
	}
	r := []rune(s)
	if len(r) > MaxNameLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrNameInvalid, MaxNameLen)
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", fmt.Errorf("%w: contains control characters", ErrNameInvalid)
		}
	}
	return s, nil
}

// ValidateCoordinates checks lat in [-90, 90] and lon in [-180, 180].
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidCoordinates)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lon %v out of range", ErrInvalidCoordinates, lon)
	}
	return nil
}

// ParseCoordinates parses lat/lon query parameters and validates their range.
func ParseCoordinates(latStr, lonStr string) (float64, float64, error) {
	latStr, lonStr = strings.TrimSpace(latStr), strings.TrimSpace(lonStr)
	if latStr == "" || lonStr == "" {
		return 0, 0, fmt.Errorf("%w: lat and lon are required", ErrInvalidCoordinates)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lat is not a number", ErrInvalidCoordinates)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: lon is not a number", ErrInvalidCoordinates)
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// Struct runs tag-based validation on a decoded request body. The first failing field is
// reported as "<field>: <rule>" wrapped in ErrInvalidRequest.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(verrs[0]))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", field, fe.Tag())
	}
}
