package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/core"
	store "github.com/hupe1980/agentstream/memory"
)

func intp(i int) *int { return &i }

func TestResolvePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		escapes bool
	}{
		{"/memories", "/memories", false},
		{"/memories/notes.md", "/memories/notes.md", false},
		{"/memories//a/./b.md", "/memories/a/b.md", false},
		{"/memories/../etc/passwd", "", true},
		{"/memories/a/../../x", "", true},
		{"/etc/passwd", "", true},
		{"memories/a.md", "", true},
		{"/memoriesX/a.md", "", true},
		{"/memories\\..\\x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolvePath(tt.in)
			if tt.escapes {
				assert.ErrorIs(t, err, ErrPathEscape)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapter_Lifecycle(t *testing.T) {
	ctx := context.Background()
	docs := store.NewInMemoryStore()
	a := New(docs)

	out, err := a.Execute(ctx, "u1", Command{Command: CmdView, Path: "/memories"})
	require.NoError(t, err)
	assert.Equal(t, "Directory: /memories\n(empty)", out)

	out, err = a.Execute(ctx, "u1", Command{Command: CmdCreate, Path: "/memories/prefs.md", FileText: "likes tea\nlives in Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "File created successfully at /memories/prefs.md", out)

	out, err = a.Execute(ctx, "u1", Command{Command: CmdView, Path: "/memories/prefs.md"})
	require.NoError(t, err)
	assert.Equal(t, "     1\tlikes tea\n     2\tlives in Berlin", out)

	out, err = a.Execute(ctx, "u1", Command{Command: CmdView, Path: "/memories/prefs.md", ViewRange: []int{2, -1}})
	require.NoError(t, err)
	assert.Equal(t, "     2\tlives in Berlin", out)

	_, err = a.Execute(ctx, "u1", Command{Command: CmdStrReplace, Path: "/memories/prefs.md", OldStr: "tea", NewStr: "coffee"})
	require.NoError(t, err)

	_, err = a.Execute(ctx, "u1", Command{Command: CmdInsert, Path: "/memories/prefs.md", InsertLine: intp(0), InsertText: "# Preferences"})
	require.NoError(t, err)

	doc, err := docs.Get(ctx, "u1", "/memories/prefs.md")
	require.NoError(t, err)
	assert.Equal(t, "# Preferences\nlikes coffee\nlives in Berlin", doc.Content)

	_, err = a.Execute(ctx, "u1", Command{Command: CmdRename, OldPath: "/memories/prefs.md", NewPath: "/memories/profile/prefs.md"})
	require.NoError(t, err)

	out, err = a.Execute(ctx, "u1", Command{Command: CmdView, Path: "/memories"})
	require.NoError(t, err)
	assert.Contains(t, out, "- /memories/profile/prefs.md")

	out, err = a.Execute(ctx, "u1", Command{Command: CmdDelete, Path: "/memories/profile/prefs.md"})
	require.NoError(t, err)
	assert.Equal(t, "Successfully deleted /memories/profile/prefs.md", out)

	_, err = docs.Get(ctx, "u1", "/memories/profile/prefs.md")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAdapter_Errors(t *testing.T) {
	ctx := context.Background()
	a := New(store.NewInMemoryStore())
	_, err := a.Execute(ctx, "u1", Command{Command: CmdCreate, Path: "/memories/a.md", FileText: "x x"})
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"escape on create", Command{Command: CmdCreate, Path: "/memories/../x", FileText: "boom"}, ErrPathEscape.Error()},
		{"escape on rename", Command{Command: CmdRename, OldPath: "/memories/a.md", NewPath: "/tmp/a.md"}, ErrPathEscape.Error()},
		{"missing file", Command{Command: CmdView, Path: "/memories/nope.md"}, "does not exist"},
		{"ambiguous replace", Command{Command: CmdStrReplace, Path: "/memories/a.md", OldStr: "x", NewStr: "y"}, "appears 2 times"},
		{"absent replace", Command{Command: CmdStrReplace, Path: "/memories/a.md", OldStr: "z", NewStr: "y"}, "did not appear verbatim"},
		{"insert out of range", Command{Command: CmdInsert, Path: "/memories/a.md", InsertLine: intp(5), InsertText: "y"}, "invalid insert_line"},
		{"insert without line", Command{Command: CmdInsert, Path: "/memories/a.md", InsertText: "y"}, "insert_line is required"},
		{"delete root", Command{Command: CmdDelete, Path: "/memories"}, "memory root"},
		{"unknown", Command{Command: "chmod", Path: "/memories/a.md"}, "unknown memory command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Execute(ctx, "u1", tt.cmd)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	_, err = a.Execute(ctx, "", Command{Command: CmdView, Path: "/memories"})
	assert.Error(t, err)
}
