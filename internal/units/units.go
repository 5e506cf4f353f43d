// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	CM = "cm"
	MM = "mm"
	IN = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, IN}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cm, mm, in"
}

// ConvertDistance converts a distance from centimeters to the target units
// Range samples are stored in cm (centimeters)
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return distanceCM * 10
	case IN:
		return distanceCM / 2.54
	case CM:
		return distanceCM
	default:
		return distanceCM // default to cm if unknown unit
	}
}
