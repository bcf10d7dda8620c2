package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/locationtracker/agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLocation() *models.LocationRecord {
	session := "s1"
	return &models.LocationRecord{
		ID:         "abc",
		Timestamp:  1600000000000,
		Position:   models.GeoPoint{Latitude: 37.5, Longitude: -122.3},
		Username:   "alice",
		SessionID:  &session,
		Background: false,
	}
}

// roundTripJSON pushes a document through encoding/json the way it travels on the wire
func roundTripJSON(t *testing.T, doc Document) Document {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var out Document
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEncode(t *testing.T) {
	t.Run("produces the feature shape", func(t *testing.T) {
		data, err := json.Marshal(Encode(sampleLocation()))
		require.NoError(t, err)

		assert.JSONEq(t, `{
			"type": "Feature",
			"created_at": 1600000000000,
			"geometry": {"type": "Point", "coordinates": [-122.3, 37.5]},
			"properties": {"username": "alice", "session_id": "s1", "timestamp": 1600000000000, "background": false}
		}`, string(data))
	})

	t.Run("orders coordinates longitude first", func(t *testing.T) {
		rec := sampleLocation()
		geometry := Encode(rec)[FieldGeometry].(Document)

		assert.Equal(t, []interface{}{rec.Position.Longitude, rec.Position.Latitude}, geometry[FieldCoordinates])
	})

	t.Run("omits session id when absent", func(t *testing.T) {
		rec := sampleLocation()
		rec.SessionID = nil

		props := Encode(rec)[FieldProperties].(Document)
		_, present := props[FieldSessionID]
		assert.False(t, present)
	})

	t.Run("does not carry the identity key in the body", func(t *testing.T) {
		_, present := Encode(sampleLocation())[FieldID]
		assert.False(t, present)
	})
}

func TestEncodeDocument(t *testing.T) {
	t.Run("adds identity to location", func(t *testing.T) {
		doc, err := EncodeDocument(sampleLocation())
		require.NoError(t, err)
		assert.Equal(t, "abc", doc[FieldID])
		assert.Equal(t, TypeFeature, doc[FieldType])
	})

	t.Run("encodes place flat", func(t *testing.T) {
		id := "p1"
		place := &models.PlaceRecord{ID: &id, Name: "Cafe", Position: models.GeoPoint{Latitude: 1, Longitude: 2}, Timestamp: 42}

		doc, err := EncodeDocument(place)
		require.NoError(t, err)

		data, err := json.Marshal(doc)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"_id": "p1",
			"doc_id": "p1",
			"name": "Cafe",
			"created_at": 42,
			"geometry": {"type": "Point", "coordinates": [2, 1]}
		}`, string(data))
		_, nested := doc[FieldProperties]
		assert.False(t, nested)
	})
}

func TestDecodeLocation(t *testing.T) {
	t.Run("round trips through the wire", func(t *testing.T) {
		rec := sampleLocation()
		doc := roundTripJSON(t, Encode(rec).With(FieldID, rec.ID))

		decoded, err := DecodeLocation(doc)
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	})

	t.Run("round trips without session and in background", func(t *testing.T) {
		rec := sampleLocation()
		rec.SessionID = nil
		rec.Background = true

		decoded, err := DecodeLocation(roundTripJSON(t, Encode(rec).With(FieldID, rec.ID)))
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	})

	t.Run("reads coordinates as longitude then latitude", func(t *testing.T) {
		doc := Document{
			FieldID:       "x",
			FieldGeometry: map[string]interface{}{FieldCoordinates: []interface{}{10.0, 20.0}},
			FieldProperties: map[string]interface{}{
				FieldUsername:  "bob",
				FieldTimestamp: 5.0,
			},
		}

		rec, err := DecodeLocation(doc)
		require.NoError(t, err)
		assert.Equal(t, 10.0, rec.Position.Longitude)
		assert.Equal(t, 20.0, rec.Position.Latitude)
		assert.Equal(t, int64(5), rec.Timestamp)
	})

	t.Run("fails when username is missing", func(t *testing.T) {
		doc := Encode(sampleLocation()).With(FieldID, "abc")
		delete(doc[FieldProperties].(Document), FieldUsername)

		rec, err := DecodeLocation(doc)
		assert.Nil(t, rec)
		require.ErrorIs(t, err, ErrMissingField)

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, "username", decodeErr.Field)
	})

	t.Run("fails when identity is missing", func(t *testing.T) {
		_, err := DecodeLocation(Encode(sampleLocation()))

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, FieldID, decodeErr.Field)
	})

	t.Run("fails on malformed coordinates", func(t *testing.T) {
		malformed := []interface{}{
			nil,
			[]interface{}{1.0},
			[]interface{}{1.0, 2.0, 3.0},
			[]interface{}{"1", "2"},
			"1,2",
			[]interface{}{math.NaN(), 2.0},
			[]interface{}{float32(math.Inf(1)), 2.0},
			[]float64{1.0, math.NaN()},
			[]float64{math.Inf(-1), 2.0},
		}
		for _, coords := range malformed {
			doc := Encode(sampleLocation()).With(FieldID, "abc")
			doc[FieldGeometry] = Document{FieldType: TypePoint, FieldCoordinates: coords}

			_, err := DecodeLocation(doc)

			var decodeErr *DecodeError
			require.ErrorAs(t, err, &decodeErr, "coordinates %v", coords)
			assert.Equal(t, FieldCoordinates, decodeErr.Field)
		}
	})

	t.Run("accepts the legacy sessionId key", func(t *testing.T) {
		doc := Encode(sampleLocation()).With(FieldID, "abc")
		props := doc[FieldProperties].(Document)
		delete(props, FieldSessionID)
		props["sessionId"] = "legacy"

		rec, err := DecodeLocation(doc)
		require.NoError(t, err)
		require.NotNil(t, rec.SessionID)
		assert.Equal(t, "legacy", *rec.SessionID)
	})

	t.Run("falls back to created_at when properties lack a timestamp", func(t *testing.T) {
		doc := Encode(sampleLocation()).With(FieldID, "abc")
		delete(doc[FieldProperties].(Document), FieldTimestamp)

		rec, err := DecodeLocation(doc)
		require.NoError(t, err)
		assert.Equal(t, int64(1600000000000), rec.Timestamp)
	})

	t.Run("accepts json numbers", func(t *testing.T) {
		doc := Encode(sampleLocation()).With(FieldID, "abc")
		doc[FieldCreatedAt] = json.Number("1600000000001")
		delete(doc[FieldProperties].(Document), FieldTimestamp)

		rec, err := DecodeLocation(doc)
		require.NoError(t, err)
		assert.Equal(t, int64(1600000000001), rec.Timestamp)
	})
}

func TestMerge(t *testing.T) {
	t.Run("keeps identity and overwrites mutable fields", func(t *testing.T) {
		existing := *sampleLocation()
		doc := Document{
			FieldID:       "other",
			FieldGeometry: Document{FieldCoordinates: []interface{}{1.5, 2.5}},
			FieldProperties: Document{
				FieldUsername:   "bob",
				FieldTimestamp:  int64(1700000000000),
				FieldBackground: true,
			},
		}

		merged, err := Merge(existing, doc)
		require.NoError(t, err)

		assert.Equal(t, "abc", merged.ID)
		assert.Equal(t, "bob", merged.Username)
		assert.Equal(t, int64(1700000000000), merged.Timestamp)
		assert.Equal(t, models.GeoPoint{Latitude: 2.5, Longitude: 1.5}, merged.Position)
		assert.True(t, merged.Background)
		assert.Nil(t, merged.SessionID)
	})

	t.Run("falls back to wall clock when timestamp is absent", func(t *testing.T) {
		existing := *sampleLocation()
		doc := Document{
			FieldGeometry:   Document{FieldCoordinates: []interface{}{1.0, 2.0}},
			FieldProperties: Document{FieldUsername: "alice"},
		}

		merged, err := Merge(existing, doc)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), time.UnixMilli(merged.Timestamp), 5*time.Second)
	})

	t.Run("returns existing untouched on malformed input", func(t *testing.T) {
		existing := *sampleLocation()
		merged, err := Merge(existing, Document{FieldProperties: Document{FieldUsername: "bob"}})

		assert.ErrorIs(t, err, ErrMissingField)
		assert.Equal(t, existing, merged)
	})
}

func TestDecodePlace(t *testing.T) {
	t.Run("decodes a search row", func(t *testing.T) {
		var row Document
		require.NoError(t, json.Unmarshal([]byte(`{
			"id": "p1",
			"doc": {
				"_id": "p1",
				"name": "Coffee Shop",
				"created_at": 1600000000000,
				"geometry": {"type": "Point", "coordinates": [-122.3, 37.5]}
			}
		}`), &row))

		place, err := DecodePlaceRow(row)
		require.NoError(t, err)
		require.NotNil(t, place.ID)
		assert.Equal(t, "p1", *place.ID)
		assert.Equal(t, "Coffee Shop", place.Name)
		assert.Equal(t, models.GeoPoint{Latitude: 37.5, Longitude: -122.3}, place.Position)
		assert.Equal(t, int64(1600000000000), place.Timestamp)
	})

	t.Run("round trips through the flat shape", func(t *testing.T) {
		id := "p2"
		place := &models.PlaceRecord{ID: &id, Name: "Park", Position: models.GeoPoint{Latitude: 1, Longitude: 2}, Timestamp: 99}

		decoded, err := DecodePlace(roundTripJSON(t, EncodePlace(place)))
		require.NoError(t, err)
		assert.Equal(t, place, decoded)
	})

	t.Run("allows places without id", func(t *testing.T) {
		place, err := DecodePlace(Document{
			FieldName:     "Bench",
			FieldGeometry: Document{FieldCoordinates: []float64{0, 0}},
		})
		require.NoError(t, err)
		assert.Nil(t, place.ID)
	})

	t.Run("fails without name", func(t *testing.T) {
		_, err := DecodePlace(Document{FieldGeometry: Document{FieldCoordinates: []float64{0, 0}}})

		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, FieldName, decodeErr.Field)
	})

	t.Run("fails on rows without doc", func(t *testing.T) {
		_, err := DecodePlaceRow(Document{"id": "p1"})
		assert.ErrorIs(t, err, ErrMissingField)
	})
}

func TestDecode(t *testing.T) {
	rec, err := Decode(models.KindLocation, Encode(sampleLocation()).With(FieldID, "abc"))
	require.NoError(t, err)
	assert.Equal(t, models.KindLocation, rec.Kind())

	_, err = Decode(models.RecordKind("route"), Document{})
	assert.ErrorIs(t, err, models.ErrUnknownKind)
}
