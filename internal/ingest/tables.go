package ingest

import "github.com/edudata-io/sis-sync/internal/db"

// Destination table shapes for the bulk loader. Tables with a conflict key
// are upserted; the rest are append-only logs.
var (
	studentsTable = db.TableSpec{
		Table: "students",
		Columns: []string{
			"school_id", "external_ref", "first_name", "last_name",
			"date_of_birth", "cohort_year",
		},
		ConflictKey: []string{"school_id", "external_ref"},
	}

	staffTable = db.TableSpec{
		Table: "staff_members",
		Columns: []string{
			"school_id", "external_ref", "first_name", "last_name", "role",
		},
		ConflictKey: []string{"school_id", "external_ref"},
	}

	classesTable = db.TableSpec{
		Table: "school_classes",
		Columns: []string{
			"school_id", "external_ref", "name", "subject", "academic_year",
		},
		ConflictKey: []string{"school_id", "external_ref"},
	}

	allocationsTable = db.TableSpec{
		Table: "class_allocations",
		Columns: []string{
			"school_id", "class_id", "student_id",
			"external_class_ref", "external_student_ref",
			"starts_on", "ends_on", "academic_year",
		},
	}

	attendanceTable = db.TableSpec{
		Table: "attendance_entries",
		Columns: []string{
			"school_id", "student_id", "external_student_ref",
			"entry_date", "category", "minutes", "remark",
		},
	}

	planTable = db.TableSpec{
		Table: "plan_entries",
		Columns: []string{
			"school_id", "class_id", "external_class_ref",
			"entry_date", "subject", "description",
		},
	}

	assessmentsTable = db.TableSpec{
		Table: "assessment_results",
		Columns: []string{
			"school_id", "student_id", "external_student_ref",
			"external_ref", "subject", "result", "taken_on", "academic_year",
		},
		ConflictKey: []string{"school_id", "external_ref"},
	}
)
