package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elis-salobehaj/log-ai/errors"
)

func TestNormalizeShape(t *testing.T) {
	tests := []struct {
		name  string
		in    OutputShape
		want  OutputShape
		valid bool
	}{
		{"empty defaults to text", "", ShapeText, true},
		{"text", ShapeText, ShapeText, true},
		{"json", ShapeJSON, ShapeJSON, true},
		{"unknown rejected", "xml", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeShape(tt.in)
			if !tt.valid {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderText(t *testing.T) {
	rec := MatchRecord{
		Service: "hub-ca-auth",
		File:    "/var/log/hub-ca-auth/app.log",
		Line:    42,
		Content: "ERROR connection reset",
	}
	assert.Equal(t, "[/var/log/hub-ca-auth/app.log:42] ERROR connection reset", RenderText(rec))
}

func TestRenderTextAll(t *testing.T) {
	recs := []MatchRecord{
		{File: "a.log", Line: 1, Content: "one"},
		{File: "b.log", Line: 2, Content: "two"},
	}
	assert.Equal(t, []string{"[a.log:1] one", "[b.log:2] two"}, RenderTextAll(recs))
	assert.Nil(t, RenderTextAll(nil))
}
