package generator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Generate(t *testing.T) {
	tests := []struct {
		name       string
		prompt     string
		wantTitles []string
		wantTags   [][]string
	}{
		{
			name:   "blank prompt",
			prompt: "   \n\t",
		},
		{
			name:       "bullets are stripped",
			prompt:     "- User can login\n* Checkout with card\n• Public API returns 200\n\n  --  ",
			wantTitles: []string{"User can login", "Checkout with card", "Public API returns 200"},
			wantTags:   [][]string{{"auth"}, {"payment"}, {"api"}},
		},
		{
			name:       "multiple tags",
			prompt:     "Sign in then pay via payment API",
			wantTitles: []string{"Sign in then pay via payment API"},
			wantTags:   [][]string{{"auth", "payment", "api"}},
		},
		{
			name:       "no tags",
			prompt:     "Homepage renders\r\nFooter links work",
			wantTitles: []string{"Homepage renders", "Footer links work"},
			wantTags:   [][]string{{}, {}},
		},
	}

	g := NewLocal(50)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Generate(context.Background(), tt.prompt)
			require.NoError(t, err)
			require.Len(t, got, len(tt.wantTitles))

			for i, s := range got {
				assert.Equal(t, tt.wantTitles[i], s.Title)
				assert.Equal(t, tt.wantTags[i], s.Tags)
				assert.Equal(t, "demo", s.Kind)
				assert.Equal(t, generatedDescription, s.Description)

				steps, ok := s.Spec["steps"].([]any)
				require.True(t, ok)
				require.Len(t, steps, 1)
				assert.Equal(t, map[string]any{"type": "pass", "message": generatedStepMessage}, steps[0])
			}
		})
	}
}

func TestLocal_GenerateCapsLines(t *testing.T) {
	lines := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		lines = append(lines, fmt.Sprintf("- requirement %d", i))
	}

	got, err := NewLocal(0).Generate(context.Background(), strings.Join(lines, "\n"))
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, "requirement 49", got[49].Title)

	got, err = NewLocal(5).Generate(context.Background(), strings.Join(lines, "\n"))
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestLocal_Provider(t *testing.T) {
	assert.Equal(t, ProviderLocal, NewLocal(1).Provider())
}

func TestSuggestion_Case(t *testing.T) {
	out, err := NewLocal(0).Generate(context.Background(), "login with password")
	require.NoError(t, err)
	require.Len(t, out, 1)

	suiteID := "sui_1"

	c, err := out[0].Case("prj_1", &suiteID)
	require.NoError(t, err)

	assert.Equal(t, "prj_1", c.ProjectID)
	assert.Equal(t, &suiteID, c.SuiteID)
	assert.Equal(t, "login with password", c.Title)
	assert.Equal(t, []string{"auth"}, []string(c.Tags))
	assert.Equal(t, "demo", c.Kind)
	assert.JSONEq(t,
		`{"steps":[{"type":"pass","message":"generated demo step (replace with real http/api steps)"}]}`,
		string(c.Spec))
}
