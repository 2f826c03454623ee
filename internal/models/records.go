package models

// RawRecord is one untyped upstream payload unit (a student, staff member,
// class, allocation, attendance entry, ...). Records are produced by the
// paginated collector and consumed by the transform step.
type RawRecord map[string]interface{}

// School is the destination-side school row a tenant's data hangs off.
type School struct {
	ID         int64  `json:"id"`
	TenantID   int64  `json:"tenant_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
}
