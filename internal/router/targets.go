package router

import (
	"context"
	"path/filepath"
	"strings"

	"blackhole/internal/config"
)

// DirectTarget is where a direct verdict places a descriptor. The set of
// implementations is closed: CompletedTarget and LibraryTarget.
type DirectTarget interface {
	place(ctx context.Context, r *Router, req Request) (Result, error)
	describe() string
}

// CompletedTarget moves a descriptor into the completed directory beside it,
// so nested and root-level drops stay where they arrived.
type CompletedTarget struct{}

// Dir returns the completed directory for the descriptor at path.
func (CompletedTarget) Dir(path string) string {
	return filepath.Join(filepath.Dir(path), config.CompletedDirName)
}

func (CompletedTarget) describe() string { return "completed:<descriptor dir>/" + config.CompletedDirName }

// LibraryTarget moves descriptors into the folder a library service keeps for
// the release, under Root (<content_root>/<category>).
type LibraryTarget struct {
	Root   string
	Client Library
}

func (t LibraryTarget) describe() string { return "library:" + t.Root }

// QueueTarget submits descriptors to the download queue under Label.
type QueueTarget struct {
	Label string
}

// Targets is the resolved routing plan of one category.
type Targets struct {
	Category string
	Direct   DirectTarget
	Queue    QueueTarget
}

// Describe renders the plan for logs and the CLI.
func (t Targets) Describe() string {
	var b strings.Builder
	b.WriteString(t.Direct.describe())
	b.WriteString(" queue:")
	b.WriteString(t.Queue.Label)
	return b.String()
}

// DirectPlan renders only the direct target.
func (t Targets) DirectPlan() string {
	return t.Direct.describe()
}

// DirectPlanFor renders the direct target for a concrete descriptor path.
func (t Targets) DirectPlanFor(path string) string {
	if completed, ok := t.Direct.(CompletedTarget); ok {
		return "completed:" + completed.Dir(path)
	}
	return t.Direct.describe()
}

func completedTargets(category, label string) Targets {
	if label == "" {
		label = category
	}
	return Targets{
		Category: category,
		Direct:   CompletedTarget{},
		Queue:    QueueTarget{Label: label},
	}
}
