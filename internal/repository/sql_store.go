package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
)

// Dialect selects the placeholder syntax of the underlying database
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLStore implements LocalStore on SQLite or PostgreSQL. Open one with
// OpenSQLite or OpenPostgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

const (
	selectLocations = `
		SELECT id, timestamp, latitude, longitude, username, session_id, background
		FROM locations`
	selectPlaces = `
		SELECT doc_id, name, latitude, longitude, timestamp
		FROM places`
)

// GetAll returns every record of the kind ordered by timestamp
func (s *SQLStore) GetAll(ctx context.Context, kind models.RecordKind) ([]models.Record, error) {
	switch kind {
	case models.KindLocation:
		recs, err := s.queryLocations(ctx, s.db, selectLocations+` ORDER BY timestamp ASC`)
		return recs, storeErr("get all locations", err)
	case models.KindPlace:
		recs, err := s.queryPlaces(ctx, s.db, selectPlaces+` ORDER BY timestamp ASC, row_id ASC`)
		return recs, storeErr("get all places", err)
	default:
		return nil, storeErr("get all", fmt.Errorf("%w: %s", models.ErrUnknownKind, kind))
	}
}

// GetUnsynchronized returns records the remote store has not accepted yet
func (s *SQLStore) GetUnsynchronized(ctx context.Context, kind models.RecordKind) ([]models.Record, error) {
	switch kind {
	case models.KindLocation:
		recs, err := s.queryLocations(ctx, s.db, selectLocations+` WHERE synchronized = ? ORDER BY timestamp ASC`, false)
		return recs, storeErr("get unsynchronized locations", err)
	case models.KindPlace:
		recs, err := s.queryPlaces(ctx, s.db, selectPlaces+` WHERE synchronized = ? ORDER BY timestamp ASC, row_id ASC`, false)
		return recs, storeErr("get unsynchronized places", err)
	default:
		return nil, storeErr("get unsynchronized", fmt.Errorf("%w: %s", models.ErrUnknownKind, kind))
	}
}

// Cursor returns the stored cursor for name
func (s *SQLStore) Cursor(ctx context.Context, name string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT last_cursor FROM sync_state WHERE name = ?`), name).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get cursor", err)
	}
	return cursor, nil
}

// WithTx runs fn inside a database transaction
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx StoreTx) error) (err error) {
	ctx, span := observability.StartStoreSpan(ctx, s.system(), "TRANSACTION")
	defer func() { observability.Finish(span, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}

	if err := fn(&sqlTx{store: s, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return storeErr("commit", tx.Commit())
}

func (s *SQLStore) system() string {
	if s.dialect == DialectPostgres {
		return "postgresql"
	}
	return "sqlite"
}

// MarkSynchronized flags the records with the given ids as accepted remotely
func (s *SQLStore) MarkSynchronized(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, true)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	in := strings.Join(placeholders, ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE locations SET synchronized = ? WHERE id IN (`+in+`)`), args...); err != nil {
		return storeErr("mark locations synchronized", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE places SET synchronized = ? WHERE doc_id IN (`+in+`)`), args...); err != nil {
		return storeErr("mark places synchronized", err)
	}

	return storeErr("commit", tx.Commit())
}

// DeleteAll removes every record and cursor
func (s *SQLStore) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"locations", "places", "sync_state"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return storeErr("delete "+table, err)
		}
	}

	return storeErr("commit", tx.Commit())
}

func (s *SQLStore) queryLocations(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.Record, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		rec, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) queryPlaces(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.Record, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, place)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLocation(row scanner) (*models.LocationRecord, error) {
	var rec models.LocationRecord
	var sessionID sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.Position.Latitude,
		&rec.Position.Longitude,
		&rec.Username,
		&sessionID,
		&rec.Background,
	); err != nil {
		return nil, err
	}
	if sessionID.Valid {
		rec.SessionID = &sessionID.String
	}
	return &rec, nil
}

func scanPlace(row scanner) (*models.PlaceRecord, error) {
	var place models.PlaceRecord
	var docID sql.NullString
	if err := row.Scan(
		&docID,
		&place.Name,
		&place.Position.Latitude,
		&place.Position.Longitude,
		&place.Timestamp,
	); err != nil {
		return nil, err
	}
	if docID.Valid {
		place.ID = &docID.String
	}
	return &place, nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlTx implements StoreTx over a database transaction
type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, kind models.RecordKind, id string) (models.Record, error) {
	var (
		rec models.Record
		err error
	)
	switch kind {
	case models.KindLocation:
		row := t.tx.QueryRowContext(ctx, t.store.rebind(selectLocations+` WHERE id = ?`), id)
		rec, err = scanLocation(row)
	case models.KindPlace:
		row := t.tx.QueryRowContext(ctx, t.store.rebind(selectPlaces+` WHERE doc_id = ?`), id)
		rec, err = scanPlace(row)
	default:
		return nil, storeErr("get", fmt.Errorf("%w: %s", models.ErrUnknownKind, kind))
	}

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get "+string(kind), err)
	}
	return rec, nil
}

func (t *sqlTx) Upsert(ctx context.Context, rec models.Record, synchronized bool) error {
	switch r := rec.(type) {
	case *models.LocationRecord:
		query := `
			INSERT INTO locations (id, timestamp, latitude, longitude, username, session_id, background, synchronized)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				timestamp = excluded.timestamp,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				username = excluded.username,
				session_id = excluded.session_id,
				background = excluded.background,
				synchronized = excluded.synchronized
		`
		var sessionID sql.NullString
		if r.SessionID != nil {
			sessionID = sql.NullString{String: *r.SessionID, Valid: true}
		}
		_, err := t.tx.ExecContext(ctx, t.store.rebind(query),
			r.ID,
			r.Timestamp,
			r.Position.Latitude,
			r.Position.Longitude,
			r.Username,
			sessionID,
			r.Background,
			synchronized,
		)
		return storeErr("upsert location", err)

	case *models.PlaceRecord:
		if r.ID == nil {
			_, err := t.tx.ExecContext(ctx, t.store.rebind(`
				INSERT INTO places (name, latitude, longitude, timestamp, synchronized)
				VALUES (?, ?, ?, ?, ?)
			`), r.Name, r.Position.Latitude, r.Position.Longitude, r.Timestamp, synchronized)
			return storeErr("insert place", err)
		}

		query := `
			INSERT INTO places (doc_id, name, latitude, longitude, timestamp, synchronized)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (doc_id) DO UPDATE SET
				name = excluded.name,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				timestamp = excluded.timestamp,
				synchronized = excluded.synchronized
		`
		_, err := t.tx.ExecContext(ctx, t.store.rebind(query),
			*r.ID, r.Name, r.Position.Latitude, r.Position.Longitude, r.Timestamp, synchronized)
		return storeErr("upsert place", err)

	default:
		return storeErr("upsert", fmt.Errorf("%w: %T", models.ErrUnknownKind, rec))
	}
}

func (t *sqlTx) SetCursor(ctx context.Context, name, cursor string) error {
	query := `
		INSERT INTO sync_state (name, last_cursor, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			last_cursor = excluded.last_cursor,
			updated_at = excluded.updated_at
	`
	_, err := t.tx.ExecContext(ctx, t.store.rebind(query), name, cursor)
	return storeErr("set cursor", err)
}
