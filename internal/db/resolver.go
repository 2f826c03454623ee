package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// Resolver maps externally-sourced identifiers to internal surrogate keys
// with batched lookups instead of one query per identifier. Unresolved
// identifiers are simply absent from the result, never an error; callers
// persist those foreign keys as null.
type Resolver struct {
	db        *sql.DB
	chunkSize int
}

// NewResolver creates a new reference resolver. chunkSize caps how many
// identifiers one lookup query carries.
func NewResolver(db *sql.DB, chunkSize int) *Resolver {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Resolver{db: db, chunkSize: chunkSize}
}

// ResolveStudents maps upstream student numbers to internal student ids for
// one school. Bare numbers also match their prefixed form.
func (r *Resolver) ResolveStudents(ctx context.Context, schoolID int64, refs []string) (map[string]int64, error) {
	return r.resolve(ctx, "students", "external_ref", schoolID, refs, "ST-")
}

// ResolveStaff maps upstream staff codes to internal staff ids for one
// school. Bare codes also match their prefixed form.
func (r *Resolver) ResolveStaff(ctx context.Context, schoolID int64, refs []string) (map[string]int64, error) {
	return r.resolve(ctx, "staff_members", "external_ref", schoolID, refs, "SF-")
}

// ResolveClasses maps upstream class codes to internal class ids for one
// school.
func (r *Resolver) ResolveClasses(ctx context.Context, schoolID int64, refs []string) (map[string]int64, error) {
	return r.resolve(ctx, "school_classes", "external_ref", schoolID, refs, "")
}

// resolve performs the batched lookup. When an identifier is not found
// under its primary form, its alternate prefixed form is probed in a second
// pass; the first successful match wins.
func (r *Resolver) resolve(ctx context.Context, table, refColumn string, schoolID int64, refs []string, altPrefix string) (map[string]int64, error) {
	unique := dedupe(refs)
	if len(unique) == 0 {
		return map[string]int64{}, nil
	}

	resolved := make(map[string]int64, len(unique))
	if err := r.lookup(ctx, table, refColumn, schoolID, unique, resolved); err != nil {
		return nil, err
	}

	if altPrefix == "" {
		return resolved, nil
	}

	// Second pass: probe the alternate form of whatever is still missing
	// and map hits back to the identifier the caller asked about.
	alt := make(map[string]string) // alternate form -> original
	for _, ref := range unique {
		if _, ok := resolved[ref]; ok {
			continue
		}
		for _, candidate := range AlternateForms(ref, altPrefix) {
			if _, taken := alt[candidate]; !taken {
				alt[candidate] = ref
			}
		}
	}
	if len(alt) == 0 {
		return resolved, nil
	}

	altKeys := make([]string, 0, len(alt))
	for k := range alt {
		altKeys = append(altKeys, k)
	}
	sort.Strings(altKeys)

	altResolved := make(map[string]int64, len(altKeys))
	if err := r.lookup(ctx, table, refColumn, schoolID, altKeys, altResolved); err != nil {
		return nil, err
	}
	for candidate, id := range altResolved {
		original := alt[candidate]
		if _, ok := resolved[original]; !ok {
			resolved[original] = id
		}
	}

	return resolved, nil
}

func (r *Resolver) lookup(ctx context.Context, table, refColumn string, schoolID int64, refs []string, into map[string]int64) error {
	query := fmt.Sprintf(
		`SELECT %s, id FROM %s WHERE school_id = $1 AND %s = ANY($2)`,
		refColumn, table, refColumn,
	)

	for start := 0; start < len(refs); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(refs) {
			end = len(refs)
		}

		rows, err := r.db.QueryContext(ctx, query, schoolID, pq.Array(refs[start:end]))
		if err != nil {
			return fmt.Errorf("failed to resolve references in %s: %w", table, err)
		}

		for rows.Next() {
			var ref string
			var id int64
			if err := rows.Scan(&ref, &id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan reference row: %w", err)
			}
			if _, ok := into[ref]; !ok {
				into[ref] = id
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating reference rows: %w", err)
		}
		rows.Close()
	}

	return nil
}

// AlternateForms returns the conventionally prefixed or de-prefixed
// spellings of an identifier, most likely first.
func AlternateForms(ref, prefix string) []string {
	if strings.HasPrefix(ref, prefix) {
		return []string{strings.TrimPrefix(ref, prefix)}
	}
	return []string{prefix + ref}
}

func dedupe(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}
