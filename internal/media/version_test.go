package media

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTool(t *testing.T) {
	bin := writeFakeTool(t, "ffmpeg", `printf 'ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc\n'`)

	line, err := CheckTool(context.Background(), bin)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version 6.1.1 Copyright (c) 2000-2023", line)
}

func TestCheckTool_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing binary", func(t *testing.T) string { return filepath.Join(t.TempDir(), "no-ffmpeg") }},
		{"failing binary", func(t *testing.T) string { return writeFakeTool(t, "ffmpeg", `exit 3`) }},
		{"silent binary", func(t *testing.T) string { return writeFakeTool(t, "ffmpeg", `exit 0`) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CheckTool(context.Background(), tt.path(t))
			require.ErrorIs(t, err, ErrToolUnavailable)
		})
	}
}
