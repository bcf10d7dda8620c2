// Package codec translates domain records to and from the GeoJSON-flavoured
// documents exchanged with the remote store.
//
// Locations travel as Features with nested geometry and properties; places are
// a different document type on the remote side and travel flat. Coordinates are
// always ordered [longitude, latitude].
package codec

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/locationtracker/agent/internal/models"
)

// Document is an untyped wire dictionary. It is produced and consumed at the
// replication boundary and never kept as state.
type Document map[string]interface{}

const (
	FieldID          = "_id"
	FieldRev         = "_rev"
	FieldDocID       = "doc_id"
	FieldType        = "type"
	FieldCreatedAt   = "created_at"
	FieldGeometry    = "geometry"
	FieldCoordinates = "coordinates"
	FieldProperties  = "properties"
	FieldUsername    = "username"
	FieldSessionID   = "session_id"
	FieldTimestamp   = "timestamp"
	FieldBackground  = "background"
	FieldName        = "name"
	FieldDoc         = "doc"

	// legacySessionID is the key older clients wrote before the remote schema settled on session_id
	legacySessionID = "sessionId"

	TypeFeature = "Feature"
	TypePoint   = "Point"
)

// Encode converts a location into its wire shape. The identity key is not part
// of the body; see EncodeDocument.
func Encode(r *models.LocationRecord) Document {
	props := Document{
		FieldUsername:   r.Username,
		FieldTimestamp:  r.Timestamp,
		FieldBackground: r.Background,
	}
	if r.SessionID != nil {
		props[FieldSessionID] = *r.SessionID
	}

	return Document{
		FieldType:       TypeFeature,
		FieldCreatedAt:  r.Timestamp,
		FieldGeometry:   encodeGeometry(r.Position),
		FieldProperties: props,
	}
}

// EncodePlace converts a place into its flat wire shape
func EncodePlace(p *models.PlaceRecord) Document {
	doc := Document{
		FieldName:      p.Name,
		FieldCreatedAt: p.Timestamp,
		FieldGeometry:  encodeGeometry(p.Position),
	}
	if p.ID != nil {
		doc[FieldDocID] = *p.ID
	}
	return doc
}

// EncodeDocument encodes any record and adds the identity key used by the remote store
func EncodeDocument(rec models.Record) (Document, error) {
	var doc Document
	switch r := rec.(type) {
	case *models.LocationRecord:
		doc = Encode(r)
	case *models.PlaceRecord:
		doc = EncodePlace(r)
	default:
		return nil, fmt.Errorf("encode %T: %w", rec, models.ErrUnknownKind)
	}

	if id := rec.RecordID(); id != "" {
		return doc.With(FieldID, id), nil
	}
	return doc, nil
}

// With returns a copy of the document with key set to value
func (d Document) With(key string, value interface{}) Document {
	out := make(Document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}

// Decode dispatches on the record kind
func Decode(kind models.RecordKind, doc Document) (models.Record, error) {
	switch kind {
	case models.KindLocation:
		return DecodeLocation(doc)
	case models.KindPlace:
		return DecodePlace(doc)
	default:
		return nil, fmt.Errorf("decode %q: %w", kind, models.ErrUnknownKind)
	}
}

// DecodeLocation builds a location from a wire document. Either a complete
// record or a *DecodeError is returned.
func DecodeLocation(doc Document) (*models.LocationRecord, error) {
	id, ok := doc[FieldID].(string)
	if !ok || id == "" {
		return nil, MissingField(FieldID)
	}

	fields, err := decodeLocationFields(doc)
	if err != nil {
		return nil, err
	}

	ts, ok := fields.timestamp()
	if !ok {
		ts = models.NowMillis()
	}

	return &models.LocationRecord{
		ID:         id,
		Timestamp:  ts,
		Position:   fields.position,
		Username:   fields.username,
		SessionID:  fields.sessionID,
		Background: fields.background,
	}, nil
}

// Merge returns existing updated with every mutable field from the document.
// The identity of existing is kept. A document without a timestamp stamps the
// merged record with the current wall clock instead of failing.
func Merge(existing models.LocationRecord, doc Document) (models.LocationRecord, error) {
	fields, err := decodeLocationFields(doc)
	if err != nil {
		return existing, err
	}

	ts, ok := fields.timestamp()
	if !ok {
		ts = models.NowMillis()
	}

	existing.Timestamp = ts
	existing.Position = fields.position
	existing.Username = fields.username
	existing.SessionID = fields.sessionID
	existing.Background = fields.background
	return existing, nil
}

// DecodePlace builds a place from its flat wire shape. The id comes from _id,
// falling back to doc_id; places without either decode with a nil id.
func DecodePlace(doc Document) (*models.PlaceRecord, error) {
	name, ok := doc[FieldName].(string)
	if !ok {
		return nil, MissingField(FieldName)
	}

	pos, err := decodeGeometry(doc)
	if err != nil {
		return nil, err
	}

	var id *string
	if v, ok := doc[FieldID].(string); ok && v != "" {
		id = &v
	} else if v, ok := doc[FieldDocID].(string); ok && v != "" {
		id = &v
	}

	ts, ok := toInt64(doc[FieldCreatedAt])
	if !ok {
		ts = models.NowMillis()
	}

	return &models.PlaceRecord{
		ID:        id,
		Name:      name,
		Position:  pos,
		Timestamp: ts,
	}, nil
}

// DecodePlaceRow decodes one row of a place search response, where the
// document is nested under "doc"
func DecodePlaceRow(row Document) (*models.PlaceRecord, error) {
	body, ok := asDocument(row[FieldDoc])
	if !ok {
		return nil, MissingField(FieldDoc)
	}
	return DecodePlace(body)
}

type locationFields struct {
	position   models.GeoPoint
	username   string
	sessionID  *string
	background bool
	propsTS    *int64
	createdAt  *int64
}

func (f locationFields) timestamp() (int64, bool) {
	if f.propsTS != nil {
		return *f.propsTS, true
	}
	if f.createdAt != nil {
		return *f.createdAt, true
	}
	return 0, false
}

func decodeLocationFields(doc Document) (locationFields, error) {
	var f locationFields

	pos, err := decodeGeometry(doc)
	if err != nil {
		return f, err
	}
	f.position = pos

	props, ok := asDocument(doc[FieldProperties])
	if !ok {
		return f, MissingField(FieldUsername)
	}
	username, ok := props[FieldUsername].(string)
	if !ok {
		return f, MissingField(FieldUsername)
	}
	f.username = username

	if s, ok := props[FieldSessionID].(string); ok {
		f.sessionID = &s
	} else if s, ok := props[legacySessionID].(string); ok {
		f.sessionID = &s
	}

	if b, ok := props[FieldBackground].(bool); ok {
		f.background = b
	}
	if ts, ok := toInt64(props[FieldTimestamp]); ok {
		f.propsTS = &ts
	}
	if ts, ok := toInt64(doc[FieldCreatedAt]); ok {
		f.createdAt = &ts
	}
	return f, nil
}

func encodeGeometry(p models.GeoPoint) Document {
	return Document{
		FieldType:        TypePoint,
		FieldCoordinates: []interface{}{p.Longitude, p.Latitude},
	}
}

// decodeGeometry reads geometry.coordinates as [longitude, latitude]
func decodeGeometry(doc Document) (models.GeoPoint, error) {
	geometry, ok := asDocument(doc[FieldGeometry])
	if !ok {
		return models.GeoPoint{}, MissingField(FieldCoordinates)
	}

	var coords []float64
	switch c := geometry[FieldCoordinates].(type) {
	case []float64:
		for _, f := range c {
			if !finite(f) {
				return models.GeoPoint{}, MissingField(FieldCoordinates)
			}
		}
		coords = c
	case []interface{}:
		coords = make([]float64, 0, len(c))
		for _, v := range c {
			f, ok := toFloat64(v)
			if !ok {
				return models.GeoPoint{}, MissingField(FieldCoordinates)
			}
			coords = append(coords, f)
		}
	default:
		return models.GeoPoint{}, MissingField(FieldCoordinates)
	}

	if len(coords) != 2 {
		return models.GeoPoint{}, MissingField(FieldCoordinates)
	}
	return models.GeoPoint{Latitude: coords[1], Longitude: coords[0]}, nil
}

func asDocument(v interface{}) (Document, bool) {
	switch m := v.(type) {
	case Document:
		return m, true
	case map[string]interface{}:
		return Document(m), true
	default:
		return nil, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case float32:
		return float64(n), finite(float64(n))
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return int64(f), err == nil
	default:
		return 0, false
	}
}
