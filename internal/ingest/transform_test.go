package ingest

import (
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edudata-io/sis-sync/internal/models"
)

func testContext() *TenantContext {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tc := NewTenantContext(models.TenantConfig{
		ID:     1,
		Name:   "Test College",
		Source: models.SourceSomtoday,
	}, 2025, logger)
	tc.SchoolID = sql.NullInt64{Int64: 7, Valid: true}
	return tc
}

func TestFieldProbes(t *testing.T) {
	t.Run("first non-null key wins", func(t *testing.T) {
		rec := models.RawRecord{
			"leerlingnummer": "1001",
			"student_id":     "2002",
		}
		assert.Equal(t, "1001", stringField(rec, studentRefKeys...))
	})

	t.Run("null and empty values are skipped", func(t *testing.T) {
		rec := models.RawRecord{
			"studentNumber":  nil,
			"leerlingnummer": "",
			"student_id":     "2002",
		}
		assert.Equal(t, "2002", stringField(rec, studentRefKeys...))
	})

	t.Run("numeric identifiers are stringified", func(t *testing.T) {
		rec := models.RawRecord{"studentNumber": float64(1001)}
		assert.Equal(t, "1001", stringField(rec, studentRefKeys...))
	})

	t.Run("absent keys yield empty", func(t *testing.T) {
		assert.Equal(t, "", stringField(models.RawRecord{"other": "x"}, studentRefKeys...))
	})

	t.Run("decimal comma results parse", func(t *testing.T) {
		f, ok := floatField(models.RawRecord{"resultaat": "7,5"}, resultKeys...)
		require.True(t, ok)
		assert.Equal(t, 7.5, f)
	})

	t.Run("dates parse in known layouts", func(t *testing.T) {
		tests := []struct {
			value string
			want  time.Time
		}{
			{"2025-09-01", time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)},
			{"01-09-2025", time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)},
			{"2025-09-01T08:30:00Z", time.Date(2025, time.September, 1, 8, 30, 0, 0, time.UTC)},
		}
		for _, tt := range tests {
			got, ok := dateField(models.RawRecord{"datum": tt.value}, entryDateKeys...)
			require.True(t, ok, tt.value)
			assert.True(t, tt.want.Equal(got), tt.value)
		}
	})
}

func TestTransformStudents(t *testing.T) {
	tc := testContext()

	t.Run("maps known fields", func(t *testing.T) {
		rows := transformStudents(tc, []models.RawRecord{
			{
				"leerlingnummer": "1001",
				"roepnaam":       "Anna",
				"achternaam":     "de Vries",
				"geboortedatum":  "2010-04-12",
				"leerjaar":       float64(3),
			},
		})
		require.Len(t, rows, 1)
		assert.Equal(t, tc.SchoolID, rows[0][0])
		assert.Equal(t, "1001", rows[0][1])
		assert.Equal(t, sql.NullString{String: "Anna", Valid: true}, rows[0][2])
		assert.Equal(t, sql.NullInt64{Int64: 3, Valid: true}, rows[0][5])
	})

	t.Run("records without a reference are dropped", func(t *testing.T) {
		rows := transformStudents(tc, []models.RawRecord{
			{"roepnaam": "Anna"},
			{"studentNumber": "1002"},
		})
		require.Len(t, rows, 1)
		assert.Equal(t, "1002", rows[0][1])
	})

	t.Run("missing optional fields become null", func(t *testing.T) {
		rows := transformStudents(tc, []models.RawRecord{{"studentNumber": "1003"}})
		require.Len(t, rows, 1)
		assert.Equal(t, sql.NullString{}, rows[0][2])
		assert.Equal(t, sql.NullTime{}, rows[0][4])
	})
}

func TestTransformAllocations(t *testing.T) {
	tc := testContext()
	studentRefs := map[string]int64{"1001": 11}
	classRefs := map[string]int64{"3HA": 21}

	rows := transformAllocations(tc, []models.RawRecord{
		{"studentNumber": "1001", "classCode": "3HA", "startDate": "2025-09-01"},
		{"studentNumber": "9999", "classCode": "3HA"},
	}, studentRefs, classRefs)

	require.Len(t, rows, 2)
	assert.Equal(t, sql.NullInt64{Int64: 11, Valid: true}, rows[0][2])
	assert.Equal(t, sql.NullInt64{Int64: 21, Valid: true}, rows[0][1])

	// Unresolved student degrades to a null key, the row still loads.
	assert.Equal(t, sql.NullInt64{}, rows[1][2])
	assert.Equal(t, sql.NullString{String: "9999", Valid: true}, rows[1][4])
}

func TestParseResultExport(t *testing.T) {
	t.Run("parses semicolon delimited export", func(t *testing.T) {
		data := []byte("resultId;studentNumber;vak;resultaat;afnameDatum\n" +
			"R1;1001;NE;7,5;2025-10-01\n" +
			"R2;1002;EN;6,8;2025-10-02\n")

		records, err := parseResultExport(data)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "R1", records[0]["resultId"])
		assert.Equal(t, "7,5", records[0]["resultaat"])
		assert.Equal(t, "1002", records[1]["studentNumber"])
	})

	t.Run("empty cells are absent keys", func(t *testing.T) {
		data := []byte("resultId;vak\nR1;\n")
		records, err := parseResultExport(data)
		require.NoError(t, err)
		require.Len(t, records, 1)
		_, ok := records[0]["vak"]
		assert.False(t, ok)
	})

	t.Run("header only export yields nothing", func(t *testing.T) {
		records, err := parseResultExport([]byte("resultId;vak\n"))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("export feeds the assessment transform", func(t *testing.T) {
		tc := testContext()
		data := []byte("resultId;studentNumber;vak;resultaat\nR1;1001;NE;7,5\n")
		records, err := parseResultExport(data)
		require.NoError(t, err)

		rows := transformAssessments(tc, records, map[string]int64{"1001": 11})
		require.Len(t, rows, 1)
		assert.Equal(t, "R1", rows[0][3])
		assert.Equal(t, sql.NullInt64{Int64: 11, Valid: true}, rows[0][1])
		assert.Equal(t, sql.NullFloat64{Float64: 7.5, Valid: true}, rows[0][5])
	})
}

func TestCollectRefs(t *testing.T) {
	records := []models.RawRecord{
		{"studentNumber": "1001"},
		{"leerlingnummer": "1002"},
		{"studentNumber": "1001"},
		{"other": "x"},
	}
	assert.Equal(t, []string{"1001", "1002"}, collectRefs(records, allocStudentKeys))
}

func TestAcademicYearRange(t *testing.T) {
	t.Run("mid-year is capped at today", func(t *testing.T) {
		now := time.Date(2025, time.November, 10, 14, 0, 0, 0, time.UTC)
		start, end := academicYearRange(2025, now)
		assert.Equal(t, time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, time.November, 10, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("finished year ends on july 31", func(t *testing.T) {
		now := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
		start, end := academicYearRange(2025, now)
		assert.Equal(t, time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2026, time.July, 31, 0, 0, 0, 0, time.UTC), end)
	})

	t.Run("year not yet started clamps to start", func(t *testing.T) {
		now := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
		start, end := academicYearRange(2025, now)
		assert.Equal(t, start, end)
	})
}
