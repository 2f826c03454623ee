package ingest

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edudata-io/sis-sync/internal/models"
)

// The upstream APIs are loose about field naming: the same value shows up
// under different keys per endpoint version. Each probe list below is tried
// in written order and the first non-null value wins.
var (
	studentRefKeys   = []string{"studentNumber", "leerlingnummer", "student_id", "id"}
	staffRefKeys     = []string{"staffCode", "medewerkerCode", "staff_id", "id"}
	classRefKeys     = []string{"classCode", "lesgroepCode", "class_id", "id"}
	firstNameKeys    = []string{"firstName", "roepnaam", "first_name"}
	lastNameKeys     = []string{"lastName", "achternaam", "last_name"}
	birthDateKeys    = []string{"dateOfBirth", "geboortedatum", "birth_date"}
	entryDateKeys    = []string{"date", "datum", "entryDate", "day"}
	startDateKeys    = []string{"startDate", "begindatum", "starts_on"}
	endDateKeys      = []string{"endDate", "einddatum", "ends_on"}
	categoryKeys     = []string{"category", "absentieSoort", "type"}
	subjectKeys      = []string{"subject", "vak", "subject_code"}
	descriptionKeys  = []string{"description", "omschrijving", "title"}
	remarkKeys       = []string{"remark", "opmerking", "note"}
	roleKeys         = []string{"role", "functie", "position"}
	classNameKeys    = []string{"name", "naam", "className"}
	minutesKeys      = []string{"minutes", "minuten", "duration"}
	cohortKeys       = []string{"cohort", "leerjaar", "cohortYear"}
	resultKeys       = []string{"result", "resultaat", "score", "grade"}
	resultRefKeys    = []string{"resultId", "result_id", "id"}
	takenOnKeys      = []string{"takenOn", "afnameDatum", "date"}
	allocStudentKeys = []string{"studentNumber", "leerlingnummer", "student_id"}
	allocClassKeys   = []string{"classCode", "lesgroepCode", "class_id"}
	schoolNameKeys   = []string{"name", "naam", "schoolName"}
)

func stringField(rec models.RawRecord, keys ...string) string {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			// Upstream sends numeric identifiers as JSON numbers.
			if val == float64(int64(val)) {
				return strconv.FormatInt(int64(val), 10)
			}
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return ""
}

func intField(rec models.RawRecord, keys ...string) (int, bool) {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val), true
		case string:
			if n, err := strconv.Atoi(val); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func floatField(rec models.RawRecord, keys ...string) (float64, bool) {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			return val, true
		case string:
			// Dutch exports use a decimal comma.
			if f, err := strconv.ParseFloat(strings.ReplaceAll(val, ",", "."), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02-01-2006"}

func dateField(rec models.RawRecord, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time, ok bool) sql.NullTime {
	return sql.NullTime{Time: t, Valid: ok}
}

func nullInt(n int, ok bool) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: ok}
}

func nullFloat(f float64, ok bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: ok}
}

// nullKey converts a resolved foreign key to its nullable column value. An
// absent mapping degrades to null instead of failing the batch.
func nullKey(refs map[string]int64, ref string) sql.NullInt64 {
	if id, ok := refs[ref]; ok {
		return sql.NullInt64{Int64: id, Valid: true}
	}
	return sql.NullInt64{}
}

func transformStudents(tc *TenantContext, records []models.RawRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		ref := stringField(rec, studentRefKeys...)
		if ref == "" {
			continue
		}
		dob, dobOK := dateField(rec, birthDateKeys...)
		cohort, cohortOK := intField(rec, cohortKeys...)
		rows = append(rows, []interface{}{
			tc.SchoolID,
			ref,
			nullString(stringField(rec, firstNameKeys...)),
			nullString(stringField(rec, lastNameKeys...)),
			nullTime(dob, dobOK),
			nullInt(cohort, cohortOK),
		})
	}
	return rows
}

func transformStaff(tc *TenantContext, records []models.RawRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		ref := stringField(rec, staffRefKeys...)
		if ref == "" {
			continue
		}
		rows = append(rows, []interface{}{
			tc.SchoolID,
			ref,
			nullString(stringField(rec, firstNameKeys...)),
			nullString(stringField(rec, lastNameKeys...)),
			nullString(stringField(rec, roleKeys...)),
		})
	}
	return rows
}

func transformClasses(tc *TenantContext, records []models.RawRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		ref := stringField(rec, classRefKeys...)
		if ref == "" {
			continue
		}
		rows = append(rows, []interface{}{
			tc.SchoolID,
			ref,
			nullString(stringField(rec, classNameKeys...)),
			nullString(stringField(rec, subjectKeys...)),
			tc.AcademicYear,
		})
	}
	return rows
}

func transformAllocations(tc *TenantContext, records []models.RawRecord, studentRefs, classRefs map[string]int64) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		studentRef := stringField(rec, allocStudentKeys...)
		classRef := stringField(rec, allocClassKeys...)
		if studentRef == "" && classRef == "" {
			continue
		}
		start, startOK := dateField(rec, startDateKeys...)
		end, endOK := dateField(rec, endDateKeys...)
		rows = append(rows, []interface{}{
			tc.SchoolID,
			nullKey(classRefs, classRef),
			nullKey(studentRefs, studentRef),
			nullString(classRef),
			nullString(studentRef),
			nullTime(start, startOK),
			nullTime(end, endOK),
			tc.AcademicYear,
		})
	}
	return rows
}

func transformAttendance(tc *TenantContext, records []models.RawRecord, studentRefs map[string]int64) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		studentRef := stringField(rec, allocStudentKeys...)
		date, dateOK := dateField(rec, entryDateKeys...)
		if studentRef == "" && !dateOK {
			continue
		}
		minutes, minutesOK := intField(rec, minutesKeys...)
		rows = append(rows, []interface{}{
			tc.SchoolID,
			nullKey(studentRefs, studentRef),
			nullString(studentRef),
			nullTime(date, dateOK),
			nullString(stringField(rec, categoryKeys...)),
			nullInt(minutes, minutesOK),
			nullString(stringField(rec, remarkKeys...)),
		})
	}
	return rows
}

func transformPlans(tc *TenantContext, records []models.RawRecord, classRefs map[string]int64) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		classRef := stringField(rec, allocClassKeys...)
		date, dateOK := dateField(rec, entryDateKeys...)
		if classRef == "" && !dateOK {
			continue
		}
		rows = append(rows, []interface{}{
			tc.SchoolID,
			nullKey(classRefs, classRef),
			nullString(classRef),
			nullTime(date, dateOK),
			nullString(stringField(rec, subjectKeys...)),
			nullString(stringField(rec, descriptionKeys...)),
		})
	}
	return rows
}

func transformAssessments(tc *TenantContext, records []models.RawRecord, studentRefs map[string]int64) [][]interface{} {
	rows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		ref := stringField(rec, resultRefKeys...)
		if ref == "" {
			continue
		}
		studentRef := stringField(rec, allocStudentKeys...)
		result, resultOK := floatField(rec, resultKeys...)
		taken, takenOK := dateField(rec, takenOnKeys...)
		rows = append(rows, []interface{}{
			tc.SchoolID,
			nullKey(studentRefs, studentRef),
			nullString(studentRef),
			ref,
			nullString(stringField(rec, subjectKeys...)),
			nullFloat(result, resultOK),
			nullTime(taken, takenOK),
			tc.AcademicYear,
		})
	}
	return rows
}

// parseResultExport parses the tabular assessment export (semicolon-
// delimited, header row first) into raw records keyed by header name, so
// the export feeds the same transform and load path as the JSON endpoints.
func parseResultExport(data []byte) ([]models.RawRecord, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	lines, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse result export: %w", err)
	}
	if len(lines) < 2 {
		return nil, nil
	}

	header := lines[0]
	records := make([]models.RawRecord, 0, len(lines)-1)
	for _, line := range lines[1:] {
		rec := make(models.RawRecord, len(header))
		for i, col := range header {
			if i < len(line) && line[i] != "" {
				rec[col] = line[i]
			}
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}

	return records, nil
}

// collectRefs gathers the distinct external references probed by keys from
// a record set, preserving first-seen order.
func collectRefs(records []models.RawRecord, keys []string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, rec := range records {
		ref := stringField(rec, keys...)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}
