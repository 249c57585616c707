package proc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsClaudeCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"bare binary", []string{"claude"}, true},
		{"absolute path", []string{"/usr/local/bin/claude", "--resume"}, true},
		{"claude-code binary", []string{"claude-code"}, true},
		{"node entrypoint", []string{"node", "/home/u/.claude/local/claude.js"}, true},
		{"node shim excluded", []string{"node", "/proj/node_modules/.bin/claude"}, false},
		{"unrelated node", []string{"node", "server.js"}, false},
		{"unrelated binary", []string{"vim", "claude.go"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isClaudeCommand(tt.args))
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, IsProcessRunning(os.Getpid()))
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-7))
}

func TestIsProcessBypassMissingProcess(t *testing.T) {
	assert.False(t, IsProcessBypass(0))
	assert.False(t, IsProcessBypass(-1))
}

func TestNormalizeCwd(t *testing.T) {
	assert.Equal(t, "", NormalizeCwd(""))
	assert.Equal(t, "/home/u/proj", NormalizeCwd("/home/u/proj/"))
	assert.Equal(t, "/home/u/proj", NormalizeCwd("/home/u/./proj"))
}

func TestNormalizeCwdResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.Mkdir(real, 0o755))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	assert.Equal(t, NormalizeCwd(real), NormalizeCwd(link))
}
