package dump

import (
	"bytes"
	"context"
	delf "debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/binscope/internal/cli/helpers"
	"github.com/coral-mesh/binscope/internal/testutil"
	"github.com/coral-mesh/binscope/internal/testutil/elftest"
	"github.com/coral-mesh/binscope/pkg/binscope"
)

func session(logs *bytes.Buffer) *helpers.Session {
	s := helpers.NewSession()
	s.Config.UseMmap = false
	s.Logger = testutil.CaptureLogger(logs)
	return s
}

func object(t *testing.T, dir, name string) string {
	f := &elftest.File{
		Type:    delf.ET_REL,
		Machine: delf.EM_AARCH64,
		Sections: []elftest.Section{
			{Name: ".text", Type: delf.SHT_PROGBITS, Flags: delf.SHF_ALLOC | delf.SHF_EXECINSTR, Data: make([]byte, 16)},
		},
	}
	return f.Write(t, dir, name)
}

func TestRun_Duplicates(t *testing.T) {
	dir := t.TempDir()
	a := object(t, dir, "a.o")
	data, err := os.ReadFile(a)
	require.NoError(t, err)
	b := filepath.Join(dir, "b.o")
	require.NoError(t, os.WriteFile(b, data, 0o600))
	c := filepath.Join(dir, "c.o")
	require.NoError(t, os.WriteFile(c, append(data, 0), 0o600))

	var logs bytes.Buffer
	got, err := Run(context.Background(), session(&logs), []string{a, b, c, a}, Options{Jobs: 1})
	require.NoError(t, err)

	var paths []string
	for _, s := range got {
		paths = append(paths, s.Path)
	}
	assert.Equal(t, []string{a, c}, paths)
	assert.NotEqual(t, got[0].Digest, got[1].Digest)
	assert.Contains(t, logs.String(), `"message":"Skipping duplicate binary"`)
	assert.Contains(t, logs.String(), `"same_as":"`+a+`"`)
}

func TestRun_Index(t *testing.T) {
	dir := t.TempDir()
	a := object(t, dir, "a.o")

	var logs bytes.Buffer
	s := session(&logs)
	s.Config.SearchPaths = []string{dir}
	got, err := Run(context.Background(), s, []string{a}, Options{UseIndex: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Error)
	assert.Contains(t, logs.String(), "Built debug path index")
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var logs bytes.Buffer
	_, err := Run(ctx, session(&logs), []string{"/nonexistent"}, Options{Jobs: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteText_Error(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, []*binscope.Summary{
		{Path: "/bin/broken", Format: "ELF", Error: "container parse failed"},
	}, false))
	assert.Equal(t, "/bin/broken\n  format:  ELF\n  error:   container parse failed\n", buf.String())
}
