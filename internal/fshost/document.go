// Package fshost hosts the scan orchestrator on a directory tree and a
// terminal.
//
// Files under the root play the part of page regions: plain files are text
// regions, dot-files are hidden, .js/.css files are script and style
// containers, and files that are not valid UTF-8 are binary. Files ending in
// .form hold "name=value" lines, one input field per line; a leading "!"
// marks a hidden field. Annotations, markers and the floating summary are
// printed to an io.Writer, and selections arrive as lines on stdin.
package fshost

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"zwsentry/internal/host"
	"zwsentry/internal/textsource"
	"zwsentry/internal/watcher"
)

// FormExt marks files parsed as input fields.
const FormExt = ".form"

// DocumentOptions controls which files become regions.
type DocumentOptions struct {
	Recursive   bool
	Include     []string
	Exclude     []string
	MaxFileSize int64
}

// Document implements host.Document over a directory.
type Document struct {
	root      string
	opts      DocumentOptions
	annotated func(id string) bool
}

// NewDocument returns a document rooted at root.
func NewDocument(root string, opts DocumentOptions) *Document {
	return &Document{root: root, opts: opts}
}

// Root returns the document root.
func (d *Document) Root() string {
	return d.root
}

// SetAnnotated installs the lookup that reports regions already carrying a
// highlight.
func (d *Document) SetAnnotated(fn func(id string) bool) {
	d.annotated = fn
}

// Regions implements host.Document. Region IDs are slash-separated paths
// relative to the root.
func (d *Document) Regions() ([]host.Region, error) {
	var out []host.Region
	err := d.walk(func(id, path string, info fs.FileInfo) error {
		if strings.HasSuffix(id, FormExt) {
			return nil
		}
		r := host.Region{ID: id, Container: containerFor(id)}
		if d.opts.MaxFileSize > 0 && info.Size() > d.opts.MaxFileSize {
			r.Container = host.ContainerBinary
		} else if r.Container.IsText() {
			data, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if isBinary(data) {
				r.Container = host.ContainerBinary
			} else {
				r.Text = string(data)
			}
		}
		if d.annotated != nil {
			r.Annotated = d.annotated(id)
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// Fields implements host.Document.
func (d *Document) Fields() ([]host.Field, error) {
	var out []host.Field
	err := d.walk(func(id, path string, info fs.FileInfo) error {
		if !strings.HasSuffix(id, FormExt) {
			return nil
		}
		fields, err := readForm(id, path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, fields...)
		return nil
	})
	return out, err
}

// ReadRegion returns the raw text of one region. A region that vanished or
// is not text yields textsource.ErrTargetUnavailable.
func (d *Document) ReadRegion(id string) (string, error) {
	path, err := d.resolve(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", textsource.ErrTargetUnavailable, err)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%w: %s is not text", textsource.ErrTargetUnavailable, id)
	}
	return string(data), nil
}

// ReadField returns the value of field name in form id.
func (d *Document) ReadField(id, name string) (host.Field, error) {
	path, err := d.resolve(id)
	if err != nil {
		return host.Field{}, err
	}
	fields, err := readForm(id, path)
	if err != nil {
		return host.Field{}, fmt.Errorf("%w: %v", textsource.ErrTargetUnavailable, err)
	}
	want := id + "#" + name
	for _, f := range fields {
		if f.ID == want {
			return f, nil
		}
	}
	return host.Field{}, fmt.Errorf("%w: no field %s", textsource.ErrTargetUnavailable, want)
}

func (d *Document) resolve(id string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(id))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the document", textsource.ErrTargetUnavailable, id)
	}
	return filepath.Join(d.root, clean), nil
}

func (d *Document) walk(fn func(id, path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != d.root {
				return nil
			}
			return err
		}
		if path == d.root {
			return nil
		}
		if entry.IsDir() {
			if !d.opts.Recursive || watcher.Excluded(entry.Name(), d.opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || watcher.Excluded(entry.Name(), d.opts.Exclude) {
			return nil
		}
		if len(d.opts.Include) > 0 && !watcher.Excluded(entry.Name(), d.opts.Include) && !strings.HasSuffix(entry.Name(), FormExt) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path, info)
	})
}

func containerFor(id string) host.ContainerKind {
	base := filepath.Base(id)
	if strings.HasPrefix(base, ".") {
		return host.ContainerHidden
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".js", ".mjs", ".ts":
		return host.ContainerScript
	case ".css":
		return host.ContainerStyle
	}
	return host.ContainerText
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data)
}

func readForm(id, path string) ([]host.Field, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []host.Field
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		hidden := strings.HasPrefix(name, "!")
		name = strings.TrimPrefix(name, "!")
		out = append(out, host.Field{ID: id + "#" + name, Value: value, Hidden: hidden})
	}
	return out, sc.Err()
}
