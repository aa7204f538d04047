package geo

import "fmt"

// UnsupportedUnitError indicates an interval unit outside degree/arcminute.
// It is fatal input validation, never retried.
type UnsupportedUnitError struct {
	Unit string
}

func (e *UnsupportedUnitError) Error() string {
	return fmt.Sprintf("unsupported interval unit %q (want degree or arcminute)", e.Unit)
}

// UnsupportedFormatError indicates a label precision outside
// degree/minute/second. Fatal input validation, never retried.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported label format %q (want degree, minute or second)", e.Format)
}
