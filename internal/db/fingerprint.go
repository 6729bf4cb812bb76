package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SchemaFingerprint is a canonical dump of the migrated schema and its
// digest. A changed digest means the tables or indexes drifted.
type SchemaFingerprint struct {
	Dump   string
	SHA256 string
}

type schemaObject struct {
	kind, name, table, sql string
}

func (o schemaObject) line() string {
	return strings.Join([]string{o.kind, o.name, o.table, canonicalSQL(o.sql)}, "|")
}

// ComputeSchemaFingerprint migrates a scratch in-memory database and
// fingerprints what Migrate created.
func ComputeSchemaFingerprint(ctx context.Context) (SchemaFingerprint, error) {
	scratch, err := OpenInMemory()
	if err != nil {
		return SchemaFingerprint{}, fmt.Errorf("open in-memory db: %w", err)
	}
	defer scratch.Close()

	if err := scratch.Migrate(ctx); err != nil {
		return SchemaFingerprint{}, fmt.Errorf("migrate: %w", err)
	}
	objects, err := scratch.schemaObjects(ctx)
	if err != nil {
		return SchemaFingerprint{}, err
	}

	var dump strings.Builder
	for _, o := range objects {
		dump.WriteString(o.line())
		dump.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(dump.String()))
	return SchemaFingerprint{Dump: dump.String(), SHA256: hex.EncodeToString(sum[:])}, nil
}

func (db *DB) schemaObjects(ctx context.Context) ([]schemaObject, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT type, name, tbl_name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'trigger', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY type, name`)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var out []schemaObject
	for rows.Next() {
		var o schemaObject
		if err := rows.Scan(&o.kind, &o.name, &o.table, &o.sql); err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// WriteFiles stores the dump and digest as schema-fingerprint.txt and
// schema-fingerprint.sha256 under dir, returning both paths.
func (f SchemaFingerprint) WriteFiles(dir string) (dumpPath, hashPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	dumpPath = filepath.Join(dir, "schema-fingerprint.txt")
	hashPath = filepath.Join(dir, "schema-fingerprint.sha256")
	if err := os.WriteFile(dumpPath, []byte(f.Dump), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(hashPath, []byte(f.SHA256+"\n"), 0o644); err != nil {
		return "", "", err
	}
	return dumpPath, hashPath, nil
}

// canonicalSQL collapses whitespace so formatting changes do not alter the digest.
func canonicalSQL(in string) string {
	return strings.Join(strings.Fields(in), " ")
}
