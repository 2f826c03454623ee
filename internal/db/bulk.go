package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/edudata-io/sis-sync/internal/errors"
)

// TableSpec describes one destination table for the bulk loader. Tables
// with a ConflictKey are upserted on it; tables without one are append-only
// logs loaded with plain inserts.
type TableSpec struct {
	Table       string
	Columns     []string
	ConflictKey []string
}

// Upsert reports whether rows for this table are merged on a natural key.
func (t TableSpec) Upsert() bool {
	return len(t.ConflictKey) > 0
}

// BulkLoader persists homogeneous row batches in parameter-bounded
// sub-batches, each executed as one multi-row statement. All sub-batches of
// one Load call share a single transaction: the call is all-or-nothing.
type BulkLoader struct {
	db        *sql.DB
	maxParams int
	logger    *logrus.Logger
}

// NewBulkLoader creates a new bulk loader. maxParams is the sink's hard
// per-statement parameter ceiling.
func NewBulkLoader(db *sql.DB, maxParams int, logger *logrus.Logger) *BulkLoader {
	return &BulkLoader{db: db, maxParams: maxParams, logger: logger}
}

// Load persists rows into spec's table and reports how many rows were
// written. Loading the same rows twice is idempotent for upsert tables. On
// any sub-batch failure the whole transaction rolls back and zero rows are
// reported.
func (l *BulkLoader) Load(ctx context.Context, spec TableSpec, rows [][]interface{}) (int, error) {
	rows = dedupeConflicts(spec, rows)
	if len(rows) == 0 {
		return 0, nil
	}

	perBatch := RowsPerBatch(l.maxParams, len(spec.Columns))

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += perBatch {
		end := start + perBatch
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		query := BuildInsert(spec, len(batch))
		args := make([]interface{}, 0, len(batch)*len(spec.Columns))
		for _, row := range batch {
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, apperrors.NewLoadError(spec.Table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewLoadError(spec.Table, err)
	}

	l.logger.WithFields(logrus.Fields{
		"table": spec.Table,
		"rows":  len(rows),
	}).Debug("Bulk load committed")

	return len(rows), nil
}

// dedupeConflicts collapses rows sharing a conflict key to the last
// occurrence. A single upsert statement cannot touch the same target row
// twice, and offset pagination over a live upstream can repeat a record
// across page boundaries.
func dedupeConflicts(spec TableSpec, rows [][]interface{}) [][]interface{} {
	if !spec.Upsert() || len(rows) < 2 {
		return rows
	}

	keyIdx := make([]int, 0, len(spec.ConflictKey))
	for i, col := range spec.Columns {
		if isConflictKey(spec, col) {
			keyIdx = append(keyIdx, i)
		}
	}

	seen := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		var b strings.Builder
		for _, i := range keyIdx {
			fmt.Fprintf(&b, "%v\x00", row[i])
		}
		key := b.String()
		if pos, ok := seen[key]; ok {
			out[pos] = row
			continue
		}
		seen[key] = len(out)
		out = append(out, row)
	}
	return out
}

// RowsPerBatch returns how many rows fit in one statement under the
// parameter ceiling. Always at least 1 so a single wide row still loads.
func RowsPerBatch(maxParams, columns int) int {
	if columns <= 0 {
		return 1
	}
	per := maxParams / columns
	if per < 1 {
		per = 1
	}
	return per
}

// BuildInsert renders the multi-row insert (or upsert) statement for n rows
// of the given table.
func BuildInsert(spec TableSpec, n int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(spec.Table)
	b.WriteString(" (")
	b.WriteString(strings.Join(spec.Columns, ", "))
	b.WriteString(") VALUES ")

	param := 1
	for row := 0; row < n; row++ {
		if row > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for col := range spec.Columns {
			if col > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", param)
			param++
		}
		b.WriteString(")")
	}

	if spec.Upsert() {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(strings.Join(spec.ConflictKey, ", "))
		b.WriteString(") DO UPDATE SET ")
		first := true
		for _, col := range spec.Columns {
			if isConflictKey(spec, col) {
				continue
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			b.WriteString(col)
			b.WriteString(" = EXCLUDED.")
			b.WriteString(col)
		}
	}

	return b.String()
}

func isConflictKey(spec TableSpec, col string) bool {
	for _, key := range spec.ConflictKey {
		if key == col {
			return true
		}
	}
	return false
}
