// Package validation checks caller input before it reaches the services. Every
// error it returns wraps apperr.ErrValidation.
package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/cropsense-service/internal/apperr"
)

const MaxCityLength = 100

var (
	ErrCityEmpty        = fmt.Errorf("%w: city is required", apperr.ErrValidation)
	ErrCityTooLong      = fmt.Errorf("%w: city too long", apperr.ErrValidation)
	ErrCityInvalidChars = fmt.Errorf("%w: city contains invalid characters", apperr.ErrValidation)
)

var validate = validator.New()

// ValidateCity trims the input, caps it at maxLen runes and restricts it to Unicode
// letters, combining marks, digits, space, comma, hyphen, period and apostrophe. Case is left
// alone; cache keys lower-case it later.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrCityEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ParseLatitude parses a latitude query value in [-90, 90].
func ParseLatitude(raw string) (float64, error) {
	return parseCoordinate("lat", raw, 90)
}

// ParseLongitude parses a longitude query value in [-180, 180].
func ParseLongitude(raw string) (float64, error) {
	return parseCoordinate("lon", raw, 180)
}

func parseCoordinate(name, raw string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s must be a number, got %q", apperr.ErrValidation, name, raw)
	}
	if v < -limit || v > limit {
		return 0, fmt.Errorf("%w: %s must be between %v and %v", apperr.ErrValidation, name, -limit, limit)
	}
	return v, nil
}

// LocationInput is the create/update body for a farm location.
type LocationInput struct {
	Name      string   `json:"name" validate:"required,max=100"`
	City      string   `json:"city" validate:"max=100"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	IsDefault bool     `json:"is_default"`
}

// Normalize trims text fields in place.
func (in *LocationInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.City = strings.TrimSpace(in.City)
}

// ValidateLocationInput runs the struct rules and requires a city or both coordinates.
func ValidateLocationInput(in LocationInput) error {
	if err := Struct(in); err != nil {
		return err
	}
	if in.City == "" && (in.Latitude == nil || in.Longitude == nil) {
		return fmt.Errorf("%w: either city or both latitude and longitude are required", apperr.ErrValidation)
	}
	if in.City != "" {
		if _, err := ValidateCity(in.City, MaxCityLength); err != nil {
			return err
		}
	}
	return nil
}

// Struct validates v against its validate tags and flattens failures into one message.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
