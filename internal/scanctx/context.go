package scanctx

import (
	"path/filepath"
	"slices"

	"github.com/example/dxscan/internal/detector"
	"github.com/example/dxscan/internal/gitcli"
	"github.com/example/dxscan/internal/inspector"
)

// Component identifies the part of the project a Context describes.
type Component struct {
	// Path is slash separated and relative to the project root; "" is the root.
	Path string `json:"path"`
	Name string `json:"name"`
	// Markers are the manifest files found directly in the component directory.
	Markers []string `json:"markers,omitempty"`
	// Languages is derived from Markers and the file extensions at the
	// component root, sorted.
	Languages []string `json:"languages,omitempty"`
}

// HasLanguage reports whether lang was detected for the component.
func (c Component) HasLanguage(lang string) bool {
	return slices.Contains(c.Languages, lang)
}

// HasMarker reports whether the component directory contains the manifest name.
func (c Component) HasMarker(name string) bool {
	return slices.Contains(c.Markers, name)
}

// Context is what every practice receives. Any inspector may be nil when the
// backend cannot provide it.
type Context struct {
	Component     Component
	Target        detector.ScanTarget
	Files         inspector.FileInspector
	Packages      inspector.PackageInspector
	Collaboration inspector.CollaborationInspector

	parent *Context
}

// Parent returns the enclosing component's context, or nil for the root.
func (c *Context) Parent() *Context { return c.parent }

// IsRoot reports whether c is the project root.
func (c *Context) IsRoot() bool { return c.parent == nil }

// NewChild returns the context of a component nested under parent. The child
// shares parent's target and collaboration inspector; files may be nil.
func NewChild(parent *Context, component Component, files inspector.FileInspector) *Context {
	child := &Context{
		Component:     component,
		Target:        parent.Target,
		Files:         files,
		Collaboration: parent.Collaboration,
		parent:        parent,
	}
	if files != nil {
		child.Packages = inspector.NewPackages(files)
	}
	return child
}

// Root walks up to the project root.
func (c *Context) Root() *Context {
	for c.parent != nil {
		c = c.parent
	}
	return c
}

// Backend creates inspectors for one scan target.
type Backend interface {
	// FileInspector returns a new inspector scoped to dir ("" for the root).
	FileInspector(dir string) inspector.FileInspector
	// CollaborationInspector returns the project-wide history inspector, or
	// nil when none is available.
	CollaborationInspector() inspector.CollaborationInspector
}

// LocalBackend reads from a directory on disk. When Remote is set, collaboration
// history comes from the hosting service instead of git log.
type LocalBackend struct {
	Root   string
	Git    gitcli.Runner
	Remote *RemoteBackend
}

// FileInspector implements Backend.
func (b LocalBackend) FileInspector(dir string) inspector.FileInspector {
	return inspector.NewLocalFiles(b.Root, dir)
}

// CollaborationInspector implements Backend.
func (b LocalBackend) CollaborationInspector() inspector.CollaborationInspector {
	if b.Remote != nil {
		return b.Remote.CollaborationInspector()
	}
	if b.Git == nil {
		return nil
	}
	return inspector.NewLocalCollaboration(b.Git, b.Root)
}

// RemoteBackend reads through a hosting API client. All inspectors share Health.
type RemoteBackend struct {
	Client inspector.RemoteClient
	Health *inspector.Health
	Policy inspector.RetryPolicy
}

// FileInspector implements Backend.
func (b RemoteBackend) FileInspector(dir string) inspector.FileInspector {
	return inspector.NewRemoteFiles(b.Client, dir, b.Health, b.Policy)
}

// CollaborationInspector implements Backend.
func (b RemoteBackend) CollaborationInspector() inspector.CollaborationInspector {
	return inspector.NewRemoteCollaboration(b.Client, b.Health, b.Policy)
}

func rootName(t detector.ScanTarget) string {
	switch {
	case t.Repo != "":
		return t.Repo
	case t.Path != "":
		return filepath.Base(t.Path)
	default:
		return t.Raw
	}
}
