package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDatabaseName(t *testing.T) {
	valid := []string{"mydb", "my_db", "my-db", "_private", "db2"}
	for _, name := range valid {
		assert.NoError(t, ValidateDatabaseName(name), name)
	}

	invalid := []string{"", "_internal", "2db", "my db", "my.db"}
	for _, name := range invalid {
		assert.Error(t, ValidateDatabaseName(name), name)
	}
}

func TestValidateMeasurementName(t *testing.T) {
	valid := []string{"weather", "cpu.load", "disk-usage", "_m"}
	for _, name := range valid {
		assert.NoError(t, ValidateMeasurementName(name), name)
	}

	invalid := []string{"", "2measure", "has space"}
	for _, name := range invalid {
		assert.Error(t, ValidateMeasurementName(name), name)
	}
}

func TestValidateURL(t *testing.T) {
	valid := []string{
		"http://localhost:8086",
		"https://influx.example.com",
		"http://10.0.0.1:8086",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateURL(u), u)
	}

	invalid := []string{"", "localhost:8086", "ftp://host", "http://"}
	for _, u := range invalid {
		assert.Error(t, ValidateURL(u), u)
	}
}
