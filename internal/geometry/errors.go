package geometry

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrSRSMismatch is returned when a binary operation receives geometries
	// in different reference systems.
	ErrSRSMismatch = eris.New("geometry: coordinate systems differ")

	// ErrUnsupportedSRS is returned for definitions PROJ cannot resolve or
	// transform.
	ErrUnsupportedSRS = eris.New("geometry: unsupported srs")

	// ErrUnsupportedType is returned when a geometry type cannot be transformed.
	ErrUnsupportedType = eris.New("geometry: unsupported geometry type")
)

// MissingReferenceError reports an attempt to reproject or spatially compare
// data that has no spatial reference assigned. Subject names that data; it
// defaults to "source geometry".
type MissingReferenceError struct {
	Subject string
	Target  SRS
}

func (e *MissingReferenceError) Error() string {
	subject := e.Subject
	if subject == "" {
		subject = "source geometry"
	}
	return fmt.Sprintf("geometry: %s has no spatial reference (target %s)", subject, e.Target)
}

// IsMissingReference reports whether err wraps a *MissingReferenceError.
func IsMissingReference(err error) bool {
	var mre *MissingReferenceError
	return eris.As(err, &mre)
}
