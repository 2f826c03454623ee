package db

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testSpec = TableSpec{
	Table:       "students",
	Columns:     []string{"school_id", "external_ref", "full_name"},
	ConflictKey: []string{"school_id", "external_ref"},
}

var testAppendSpec = TableSpec{
	Table:   "attendance_entries",
	Columns: []string{"school_id", "student_id", "entry_date"},
}

func TestBuildInsert(t *testing.T) {
	t.Run("single row upsert", func(t *testing.T) {
		got := BuildInsert(testSpec, 1)
		want := "INSERT INTO students (school_id, external_ref, full_name) VALUES ($1, $2, $3)" +
			" ON CONFLICT (school_id, external_ref) DO UPDATE SET full_name = EXCLUDED.full_name"
		assert.Equal(t, want, got)
	})

	t.Run("multi row placeholders continue numbering", func(t *testing.T) {
		got := BuildInsert(testSpec, 3)
		assert.Contains(t, got, "($1, $2, $3), ($4, $5, $6), ($7, $8, $9)")
		assert.Equal(t, 9, strings.Count(got, "$"))
	})

	t.Run("append only table gets plain insert", func(t *testing.T) {
		got := BuildInsert(testAppendSpec, 2)
		assert.NotContains(t, got, "ON CONFLICT")
		assert.Contains(t, got, "($1, $2, $3), ($4, $5, $6)")
	})

	t.Run("conflict key columns are never updated", func(t *testing.T) {
		got := BuildInsert(testSpec, 1)
		assert.NotContains(t, got, "school_id = EXCLUDED")
		assert.NotContains(t, got, "external_ref = EXCLUDED")
	})
}

func TestRowsPerBatch(t *testing.T) {
	tests := []struct {
		maxParams int
		columns   int
		want      int
	}{
		{65535, 5, 13107},
		{65535, 7, 9362},
		{10, 3, 3},
		{2, 3, 1},
		{65535, 0, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d params %d cols", tt.maxParams, tt.columns), func(t *testing.T) {
			assert.Equal(t, tt.want, RowsPerBatch(tt.maxParams, tt.columns))
		})
	}

	t.Run("never exceeds the ceiling", func(t *testing.T) {
		for cols := 1; cols <= 40; cols++ {
			per := RowsPerBatch(65535, cols)
			if per > 1 {
				assert.LessOrEqual(t, per*cols, 65535, "columns=%d", cols)
			}
		}
	})
}

func TestDedupeConflicts(t *testing.T) {
	t.Run("last occurrence of a repeated key wins", func(t *testing.T) {
		rows := [][]interface{}{
			{int64(7), "1001", "Anna"},
			{int64(7), "1002", "Bram"},
			{int64(7), "1001", "Anna-Maria"},
		}
		got := dedupeConflicts(testSpec, rows)
		assert.Equal(t, [][]interface{}{
			{int64(7), "1001", "Anna-Maria"},
			{int64(7), "1002", "Bram"},
		}, got)
	})

	t.Run("same ref in different schools is not a duplicate", func(t *testing.T) {
		rows := [][]interface{}{
			{int64(7), "1001", "Anna"},
			{int64(8), "1001", "Anna"},
		}
		assert.Len(t, dedupeConflicts(testSpec, rows), 2)
	})

	t.Run("append-only specs pass through untouched", func(t *testing.T) {
		rows := [][]interface{}{
			{int64(7), int64(11), "2025-09-01"},
			{int64(7), int64(11), "2025-09-01"},
		}
		assert.Len(t, dedupeConflicts(testAppendSpec, rows), 2)
	})

	t.Run("no duplicates leaves order intact", func(t *testing.T) {
		rows := [][]interface{}{
			{int64(7), "1001", "Anna"},
			{int64(7), "1002", "Bram"},
		}
		assert.Equal(t, rows, dedupeConflicts(testSpec, rows))
	})
}

func TestTableSpecUpsert(t *testing.T) {
	assert.True(t, testSpec.Upsert())
	assert.False(t, testAppendSpec.Upsert())
}
