package scanctx

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/events"
	"github.com/example/dxscan/internal/inspector"
)

// Languages reported on Component.
const (
	LangGo         = "go"
	LangJavaScript = "javascript"
	LangPython     = "python"
	LangJava       = "java"
	LangRust       = "rust"
	LangPHP        = "php"
	LangRuby       = "ruby"
	LangCSharp     = "csharp"
)

// markerFiles maps component manifests to the language they imply.
var markerFiles = map[string]string{
	"package.json":     LangJavaScript,
	"go.mod":           LangGo,
	"pom.xml":          LangJava,
	"build.gradle":     LangJava,
	"requirements.txt": LangPython,
	"setup.py":         LangPython,
	"pyproject.toml":   LangPython,
	"Cargo.toml":       LangRust,
	"composer.json":    LangPHP,
	"Gemfile":          LangRuby,
}

var extLanguages = map[string]string{
	".go":   LangGo,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".cjs":  LangJavaScript,
	".ts":   LangJavaScript,
	".tsx":  LangJavaScript,
	".py":   LangPython,
	".java": LangJava,
	".rs":   LangRust,
	".php":  LangPHP,
	".rb":   LangRuby,
	".cs":   LangCSharp,
}

// IsMarker reports whether a file name marks the directory as a component.
func IsMarker(name string) bool {
	if _, ok := markerFiles[name]; ok {
		return true
	}
	return strings.HasSuffix(name, ".csproj")
}

func markerLanguage(name string) string {
	if lang, ok := markerFiles[name]; ok {
		return lang
	}
	if strings.HasSuffix(name, ".csproj") {
		return LangCSharp
	}
	return ""
}

// Builder assembles contexts for one scan.
type Builder struct {
	backend Backend
	emitter *events.Emitter
}

// NewBuilder returns a builder. emitter may be nil.
func NewBuilder(backend Backend, emitter *events.Emitter) *Builder {
	return &Builder{backend: backend, emitter: emitter}
}

// Build returns the root context for target. The only I/O is a shallow
// listing of the root used to fill in markers and languages; when it fails
// the component is left undescribed.
func (b *Builder) Build(ctx context.Context, target detector.ScanTarget) *Context {
	files := b.backend.FileInspector("")
	root := &Context{
		Component:     Component{Name: rootName(target)},
		Target:        target,
		Files:         files,
		Packages:      inspector.NewPackages(files),
		Collaboration: b.backend.CollaborationInspector(),
	}
	b.describe(ctx, &root.Component, files)
	return root
}

// describe fills Markers and Languages from a shallow listing of files.
// Practices rely on these so applicability checks never need I/O.
func (b *Builder) describe(ctx context.Context, c *Component, files inspector.FileInspector) {
	entries, err := files.List(ctx, "", inspector.ScanOptions{Shallow: true})
	if err != nil {
		b.emitter.Log(events.InspectorError, err.Error(), map[string]any{"component": c.Path})
		return
	}
	langs := map[string]struct{}{}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		if lang := markerLanguage(e.Name); lang != "" {
			c.Markers = append(c.Markers, e.Name)
			langs[lang] = struct{}{}
		}
		if lang, ok := extLanguages[e.Ext]; ok {
			langs[lang] = struct{}{}
		}
	}
	for lang := range langs {
		c.Languages = append(c.Languages, lang)
	}
	slices.Sort(c.Markers)
	slices.Sort(c.Languages)
}

// DiscoverComponents finds sub-projects below root by their manifest files.
// Without recursive only directories directly below the root are considered.
// Each child gets its own file and package inspectors, shares root's
// collaboration inspector and points at the nearest enclosing component.
// Children are returned in lexicographic path order.
func (b *Builder) DiscoverComponents(ctx context.Context, root *Context, recursive bool) ([]*Context, error) {
	if root.Files == nil {
		return nil, nil
	}
	dirs, err := componentDirs(ctx, root.Files, recursive)
	if err != nil {
		return nil, fmt.Errorf("discover components: %w", err)
	}

	byPath := map[string]*Context{"": root}
	children := make([]*Context, 0, len(dirs))
	for _, dir := range dirs {
		parent := root
		for p := path.Dir(dir); p != "." && p != "/"; p = path.Dir(p) {
			if c, ok := byPath[p]; ok {
				parent = c
				break
			}
		}
		files := b.backend.FileInspector(dir)
		child := NewChild(parent, Component{Path: dir, Name: path.Base(dir)}, files)
		b.describe(ctx, &child.Component, files)
		byPath[dir] = child
		children = append(children, child)
		b.emitter.Log(events.ComponentDiscovered, "component discovered", map[string]any{
			"path":      dir,
			"parent":    parent.Component.Path,
			"languages": child.Component.Languages,
		})
	}
	return children, nil
}

func componentDirs(ctx context.Context, files inspector.FileInspector, recursive bool) ([]string, error) {
	var candidates []inspector.FileMeta
	if recursive {
		all, err := files.List(ctx, "", inspector.ScanOptions{})
		if err != nil {
			return nil, err
		}
		candidates = all
	} else {
		top, err := files.List(ctx, "", inspector.ScanOptions{Shallow: true})
		if err != nil {
			return nil, err
		}
		for _, e := range top {
			if !e.IsDir {
				continue
			}
			entries, err := files.List(ctx, e.Path, inspector.ScanOptions{Shallow: true})
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, entries...)
		}
	}

	seen := map[string]struct{}{}
	var dirs []string
	for _, e := range candidates {
		if e.IsDir || !IsMarker(e.Name) {
			continue
		}
		dir := path.Dir(e.Path)
		if dir == "." {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return dirs, nil
}
