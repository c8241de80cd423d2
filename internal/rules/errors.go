package rules

import (
	"errors"
	"strings"
)

// ErrNoData is returned when there is no dataset to validate
var ErrNoData = errors.New("no data to validate")

// SchemaError reports required columns absent from the dataset
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "Missing required columns: " + strings.Join(e.Missing, ", ")
}

// IsSchemaError reports whether err wraps a *SchemaError
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
