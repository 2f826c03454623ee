package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlternateForms(t *testing.T) {
	tests := []struct {
		name   string
		ref    string
		prefix string
		want   []string
	}{
		{"bare number gains prefix", "42", "ST-", []string{"ST-42"}},
		{"prefixed loses prefix", "ST-42", "ST-", []string{"42"}},
		{"staff code", "SF-007", "SF-", []string{"007"}},
		{"non numeric", "abc", "ST-", []string{"ST-abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AlternateForms(tt.ref, tt.prefix))
		})
	}
}

func TestDedupe(t *testing.T) {
	t.Run("removes duplicates and empties", func(t *testing.T) {
		got := dedupe([]string{"a", "", "b", "a", "c", "b"})
		assert.Equal(t, []string{"a", "b", "c"}, got)
	})

	t.Run("preserves first-seen order", func(t *testing.T) {
		got := dedupe([]string{"z", "y", "z", "x"})
		assert.Equal(t, []string{"z", "y", "x"}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, dedupe(nil))
	})
}
