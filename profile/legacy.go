package profile

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/hupe1980/ndstore/metadata"
)

// Legacy profiles keep one JSON encoded value per row:
//
//	CREATE TABLE properties (key TEXT PRIMARY KEY, value TEXT NOT NULL)
//
// with a "version" row and the settings fields of that version.
const legacyQuery = `SELECT key, value FROM properties`

// importLegacy reads a legacy profile database into an untyped settings
// document and its version. The database is opened read-only and left as is.
func importLegacy(ctx context.Context, path string) (metadata.Document, int, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, 0, fmt.Errorf("open legacy profile: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, legacyQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: legacy profile: %w", ErrInvalidDescriptor, err)
	}
	defer rows.Close()

	doc := metadata.Document{}
	version := 1
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, 0, err
		}
		if key == versionKey {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: legacy version %q", ErrInvalidDescriptor, raw)
			}
			version = n
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, 0, fmt.Errorf("%w: legacy key %q: %w", ErrInvalidDescriptor, key, err)
		}
		val, err := metadata.FromAny(v)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: legacy key %q: %w", ErrInvalidDescriptor, key, err)
		}
		doc[key] = val
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return doc, version, nil
}
