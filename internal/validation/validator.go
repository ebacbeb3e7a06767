package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	// InfluxDB database names: alphanumeric, underscores and dashes,
	// must not start with a digit.
	databaseNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

	// Measurement names additionally allow dots.
	measurementNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)
)

// reservedDatabases are InfluxDB-internal databases that must never be a
// backup source or destination.
var reservedDatabases = map[string]bool{
	"_internal": true,
}

// ValidateDatabaseName validates an InfluxDB database name.
func ValidateDatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if reservedDatabases[name] {
		return fmt.Errorf("database name %q is reserved", name)
	}
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("invalid database name: %q", name)
	}
	return nil
}

// ValidateMeasurementName validates an InfluxDB measurement name.
func ValidateMeasurementName(name string) error {
	if name == "" {
		return fmt.Errorf("measurement name cannot be empty")
	}
	if !measurementNamePattern.MatchString(name) {
		return fmt.Errorf("invalid measurement name: %q", name)
	}
	return nil
}

// ValidateURL validates an HTTP endpoint base URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
