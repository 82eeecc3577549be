package everything

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-everything-go/mcp"
	"github.com/ggoodman/mcp-everything-go/mcpservice"
	"github.com/ggoodman/mcp-everything-go/registry"
	"github.com/ggoodman/mcp-everything-go/subscriptions"
)

// Files exposes the regular files below a directory as file:// resources.
//
// The root is resolved through symlinks once, and every read resolves the
// target again and refuses anything that lands outside the root.
type Files struct {
	root string
	base string
}

// FileResources opens dir for serving. dir must exist and be a directory.
func FileResources(dir string) (*Files, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", dir, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", dir, err)
	}
	fi, err := os.Stat(real)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", real)
	}
	return &Files{root: real, base: "file://" + escapePath(filepath.ToSlash(real))}, nil
}

// Root returns the resolved directory.
func (f *Files) Root() string { return f.root }

// URI returns the resource URI of a slash-separated path relative to the
// root.
func (f *Files) URI(rel string) string {
	return strings.TrimRight(f.base, "/") + "/" + escapePath(rel)
}

// Options registers the files currently present as concrete resources and
// a template that serves files created later.
func (f *Files) Options() ([]mcpservice.ServerOption, error) {
	list, err := f.Resources()
	if err != nil {
		return nil, err
	}
	return []mcpservice.ServerOption{
		mcpservice.WithResources(list...),
		mcpservice.WithResourceTemplates(f.Template()),
	}, nil
}

// Resources lists every regular file below the root in lexical order.
func (f *Files) Resources() ([]mcpservice.Resource, error) {
	var out []mcpservice.Resource
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		out = append(out, mcpservice.Resource{
			URI:      f.URI(rel),
			Name:     rel,
			MimeType: mimeFor(rel),
			Handler:  f.Read,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", f.root, err)
	}
	return out, nil
}

// Template matches any path below the root.
func (f *Files) Template() mcpservice.ResourceTemplate {
	return mcpservice.ResourceTemplate{
		URITemplate: strings.TrimRight(f.base, "/") + "/{+path}",
		Name:        "Workspace File",
		Description: "A file below " + f.root,
		Handler: func(ctx context.Context, uri string, _ map[string]string) ([]mcp.ResourceContents, error) {
			return f.Read(ctx, uri)
		},
	}
}

// Read returns the contents of the file named by uri. UTF-8 files are
// returned as text, anything else as a base64 blob.
func (f *Files) Read(_ context.Context, uri string) ([]mcp.ResourceContents, error) {
	notFound := &registry.NotFoundError{Kind: registry.KindResource, Name: uri}

	rel, ok := f.uriToRel(uri)
	if !ok {
		return nil, notFound
	}
	real, err := filepath.EvalSymlinks(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil || !within(real, f.root) {
		return nil, notFound
	}
	fi, err := os.Stat(real)
	if err != nil || !fi.Mode().IsRegular() {
		return nil, notFound
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	rc := mcp.ResourceContents{URI: uri, MimeType: mimeFor(rel)}
	if utf8.Valid(data) {
		rc.Text = string(data)
	} else {
		rc.Blob = base64.StdEncoding.EncodeToString(data)
	}
	return []mcp.ResourceContents{rc}, nil
}

// Watch publishes a resource-updated event through subs whenever a file
// below the root is written, created, removed or renamed. It blocks until
// ctx is done.
func (f *Files) Watch(ctx context.Context, subs *subscriptions.Manager, log *slog.Logger) error {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify unavailable: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.root, err)
	}
	log.InfoContext(ctx, "everything.files.watch.start", slog.String("root", f.root))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						log.WarnContext(ctx, "everything.files.watch.add.fail", slog.String("dir", ev.Name), slog.String("err", err.Error()))
					}
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			uri, ok := f.pathToURI(ev.Name)
			if !ok {
				continue
			}
			if err := subs.Publish(ctx, uri); err != nil {
				log.WarnContext(ctx, "everything.files.publish.fail", slog.String("uri", uri), slog.String("err", err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "everything.files.watch.error", slog.String("err", err.Error()))
		}
	}
}

// WatchDir serves as a one-call form of FileResources followed by Watch.
func WatchDir(ctx context.Context, dir string, subs *subscriptions.Manager, log *slog.Logger) error {
	f, err := FileResources(dir)
	if err != nil {
		return err
	}
	return f.Watch(ctx, subs, log)
}

func (f *Files) pathToURI(name string) (string, bool) {
	abs, err := filepath.Abs(name)
	if err != nil || !within(abs, f.root) {
		return "", false
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." {
		return "", false
	}
	return f.URI(filepath.ToSlash(rel)), true
}

func (f *Files) uriToRel(uri string) (string, bool) {
	base := strings.TrimRight(f.base, "/") + "/"
	p, ok := strings.CutPrefix(uri, base)
	if !ok {
		return "", false
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if !fs.ValidPath(rel) || rel == "." {
		return "", false
	}
	return rel, true
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func mimeFor(name string) string {
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
