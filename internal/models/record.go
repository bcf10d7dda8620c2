package models

// RecordKind identifies the document type a record is stored and replicated as
type RecordKind string

const (
	KindLocation RecordKind = "location"
	KindPlace    RecordKind = "place"
)

// Record is implemented by every domain record the local store and codec handle
type Record interface {
	RecordID() string
	Kind() RecordKind
}

// ModelError is returned for invalid domain values
type ModelError struct {
	Message string
}

func (e ModelError) Error() string {
	return e.Message
}

var (
	ErrEmptyUsername    = ModelError{"username cannot be empty"}
	ErrInvalidLatitude  = ModelError{"latitude must be between -90 and 90"}
	ErrInvalidLongitude = ModelError{"longitude must be between -180 and 180"}
	ErrUnknownDirection = ModelError{"sync direction must be push or pull"}
	ErrUnknownKind      = ModelError{"unknown record kind"}
)
