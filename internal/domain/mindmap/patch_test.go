package mindmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinknet-backend/internal/errors"
)

func TestParseNodePatch(t *testing.T) {
	tests := []struct {
		name    string
		updates map[string]any
		want    NodePatch
		wantErr bool
	}{
		{
			name:    "position only",
			updates: map[string]any{"x": 12.5, "y": -3.0},
			want:    NodePatch{X: floatPtr(12.5), Y: floatPtr(-3)},
		},
		{
			name:    "all fields",
			updates: map[string]any{"x": 1.0, "y": 2.0, "text": "Hi", "level": 2.0, "color": "#ff0000"},
			want:    NodePatch{X: floatPtr(1), Y: floatPtr(2), Text: strPtr("Hi"), Level: intPtr(2), Color: strPtr("#ff0000")},
		},
		{
			name:    "empty object",
			updates: map[string]any{},
			want:    NodePatch{},
		},
		{
			name:    "unknown key",
			updates: map[string]any{"x": 1.0, "createdBy": "mallory"},
			wantErr: true,
		},
		{
			name:    "wrong type",
			updates: map[string]any{"x": "far left"},
			wantErr: true,
		},
		{
			name:    "fractional level",
			updates: map[string]any{"level": 1.5},
			wantErr: true,
		},
		{
			name:    "level beyond int range",
			updates: map[string]any{"level": 1e20},
			wantErr: true,
		},
		{
			name:    "level far below int range",
			updates: map[string]any{"level": -1e20},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodePatch(tt.updates)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNodePatch_Apply(t *testing.T) {
	n := Node{ID: "n1", X: 1, Y: 1, Text: "Idea", Level: 1, Color: "blue"}

	require.NoError(t, NodePatch{Y: floatPtr(9), Level: intPtr(3)}.Apply(&n))
	assert.Equal(t, Node{ID: "n1", X: 1, Y: 9, Text: "Idea", Level: 3, Color: "blue"}, n)

	assert.Error(t, NodePatch{Level: intPtr(-1)}.Apply(&n))
	assert.Equal(t, 3, n.Level)

	assert.True(t, NodePatch{}.IsEmpty())
	assert.False(t, NodePatch{Color: strPtr("")}.IsEmpty())
}
