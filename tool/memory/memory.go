// Package memory adapts a core.DocumentStore to the memory tool: a file-like
// command set (view, create, str_replace, insert, delete, rename) over
// documents scoped under a fixed root.
package memory

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/agentstream/core"
)

// Name is the tool name of the memory adapter.
const Name = "memory"

// Description is shown to providers that do not declare the memory tool natively.
const Description = "Store and retrieve persistent notes across conversations. All paths live under /memories. " +
	"Commands: view, create, str_replace, insert, delete, rename."

// Root is the namespace every memory path must live under.
const Root = "/memories"

// Commands.
const (
	CmdView       = "view"
	CmdCreate     = "create"
	CmdStrReplace = "str_replace"
	CmdInsert     = "insert"
	CmdDelete     = "delete"
	CmdRename     = "rename"
)

var (
	// ErrPathEscape is returned for paths outside Root.
	ErrPathEscape = errors.New("path escapes the memory root")
	// ErrUnknownCommand is returned for unsupported commands.
	ErrUnknownCommand = errors.New("unknown memory command")
)

// Command is the discriminated input of the memory tool.
type Command struct {
	Command    string `json:"command" jsonschema:"enum=view,enum=create,enum=str_replace,enum=insert,enum=delete,enum=rename"`
	Path       string `json:"path,omitempty" jsonschema:"description=Target path under /memories"`
	ViewRange  []int  `json:"view_range,omitempty" jsonschema:"description=Optional [start end] line range for view; end -1 reads to the end"`
	FileText   string `json:"file_text,omitempty" jsonschema:"description=Content for create"`
	OldStr     string `json:"old_str,omitempty" jsonschema:"description=Text to replace for str_replace"`
	NewStr     string `json:"new_str,omitempty" jsonschema:"description=Replacement text for str_replace"`
	InsertLine *int   `json:"insert_line,omitempty" jsonschema:"description=Line after which to insert (0 inserts at the top)"`
	InsertText string `json:"insert_text,omitempty" jsonschema:"description=Text to insert"`
	OldPath    string `json:"old_path,omitempty" jsonschema:"description=Source path for rename"`
	NewPath    string `json:"new_path,omitempty" jsonschema:"description=Destination path for rename"`
}

// Adapter executes memory commands against a document store.
type Adapter struct {
	store core.DocumentStore
}

// New creates an adapter over store.
func New(store core.DocumentStore) *Adapter {
	return &Adapter{store: store}
}

// Execute runs one command for userID and returns the textual result.
func (a *Adapter) Execute(ctx context.Context, userID string, cmd Command) (string, error) {
	if userID == "" {
		return "", errors.New("memory requires a user")
	}

	switch cmd.Command {
	case CmdView:
		return a.view(ctx, userID, cmd)
	case CmdCreate:
		return a.create(ctx, userID, cmd)
	case CmdStrReplace:
		return a.strReplace(ctx, userID, cmd)
	case CmdInsert:
		return a.insert(ctx, userID, cmd)
	case CmdDelete:
		return a.delete(ctx, userID, cmd)
	case CmdRename:
		return a.rename(ctx, userID, cmd)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

// ResolvePath validates p and returns its clean form. Paths must be Root or
// below it; ".." segments are rejected rather than resolved.
func ResolvePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("path is required")
	}
	if strings.Contains(p, "\\") || strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
		}
	}

	clean := path.Clean(p)
	if clean != Root && !strings.HasPrefix(clean, Root+"/") {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}
	return clean, nil
}

func (a *Adapter) view(ctx context.Context, userID string, cmd Command) (string, error) {
	p, err := ResolvePath(cmd.Path)
	if err != nil {
		return "", err
	}

	doc, err := a.store.Get(ctx, userID, p)
	if err == nil {
		return renderFile(doc, cmd.ViewRange)
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", err
	}

	docs, err := a.store.List(ctx, userID, p+"/")
	if err != nil {
		return "", err
	}
	if len(docs) == 0 && p != Root {
		return "", fmt.Errorf("the path %s does not exist", p)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory: %s", p)
	if len(docs) == 0 {
		sb.WriteString("\n(empty)")
	}
	for _, d := range docs {
		fmt.Fprintf(&sb, "\n- %s (%d bytes)", d.Path, len(d.Content))
	}
	return sb.String(), nil
}

func renderFile(doc core.Document, viewRange []int) (string, error) {
	lines := strings.Split(doc.Content, "\n")
	start, end := 1, len(lines)

	if len(viewRange) > 0 {
		if len(viewRange) != 2 {
			return "", errors.New("view_range must be [start, end]")
		}
		start, end = viewRange[0], viewRange[1]
		if end == -1 {
			end = len(lines)
		}
		if start < 1 || start > len(lines) || end < start || end > len(lines) {
			return "", fmt.Errorf("invalid view_range [%d, %d] for %d lines", viewRange[0], viewRange[1], len(lines))
		}
	}

	var sb strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i, lines[i-1])
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (a *Adapter) create(ctx context.Context, userID string, cmd Command) (string, error) {
	p, err := ResolvePath(cmd.Path)
	if err != nil {
		return "", err
	}
	if p == Root {
		return "", errors.New("cannot create a file at the memory root")
	}
	if err := a.store.Put(ctx, userID, core.Document{Path: p, Content: cmd.FileText}); err != nil {
		return "", err
	}
	return "File created successfully at " + p, nil
}

func (a *Adapter) load(ctx context.Context, userID, raw string) (core.Document, error) {
	p, err := ResolvePath(raw)
	if err != nil {
		return core.Document{}, err
	}
	doc, err := a.store.Get(ctx, userID, p)
	if errors.Is(err, core.ErrNotFound) {
		return core.Document{}, fmt.Errorf("the path %s does not exist", p)
	}
	return doc, err
}

func (a *Adapter) strReplace(ctx context.Context, userID string, cmd Command) (string, error) {
	if cmd.OldStr == "" {
		return "", errors.New("old_str is required")
	}
	doc, err := a.load(ctx, userID, cmd.Path)
	if err != nil {
		return "", err
	}

	switch n := strings.Count(doc.Content, cmd.OldStr); n {
	case 0:
		return "", fmt.Errorf("no replacement was performed, old_str did not appear verbatim in %s", doc.Path)
	case 1:
	default:
		return "", fmt.Errorf("no replacement was performed, old_str appears %d times in %s; make it unique", n, doc.Path)
	}

	doc.Content = strings.Replace(doc.Content, cmd.OldStr, cmd.NewStr, 1)
	if err := a.store.Put(ctx, userID, doc); err != nil {
		return "", err
	}
	return "The memory file has been edited.", nil
}

func (a *Adapter) insert(ctx context.Context, userID string, cmd Command) (string, error) {
	if cmd.InsertLine == nil {
		return "", errors.New("insert_line is required")
	}
	doc, err := a.load(ctx, userID, cmd.Path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(doc.Content, "\n")
	if doc.Content == "" {
		lines = nil
	}
	at := *cmd.InsertLine
	if at < 0 || at > len(lines) {
		return "", fmt.Errorf("invalid insert_line %d: must be within [0, %d]", at, len(lines))
	}

	inserted := strings.Split(cmd.InsertText, "\n")
	out := make([]string, 0, len(lines)+len(inserted))
	out = append(out, lines[:at]...)
	out = append(out, inserted...)
	out = append(out, lines[at:]...)

	doc.Content = strings.Join(out, "\n")
	if err := a.store.Put(ctx, userID, doc); err != nil {
		return "", err
	}
	return fmt.Sprintf("Text inserted at line %d of %s.", at, doc.Path), nil
}

func (a *Adapter) delete(ctx context.Context, userID string, cmd Command) (string, error) {
	p, err := ResolvePath(cmd.Path)
	if err != nil {
		return "", err
	}
	if p == Root {
		return "", errors.New("cannot delete the memory root")
	}
	if err := a.store.Delete(ctx, userID, p); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf("the path %s does not exist", p)
		}
		return "", err
	}
	return "Successfully deleted " + p, nil
}

func (a *Adapter) rename(ctx context.Context, userID string, cmd Command) (string, error) {
	from, err := ResolvePath(cmd.OldPath)
	if err != nil {
		return "", err
	}
	to, err := ResolvePath(cmd.NewPath)
	if err != nil {
		return "", err
	}
	if from == Root || to == Root {
		return "", errors.New("cannot rename the memory root")
	}
	if err := a.store.Rename(ctx, userID, from, to); err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			return "", fmt.Errorf("the path %s does not exist", from)
		case errors.Is(err, core.ErrAlreadyExists):
			return "", fmt.Errorf("the destination %s already exists", to)
		}
		return "", err
	}
	return fmt.Sprintf("Successfully renamed %s to %s", from, to), nil
}
