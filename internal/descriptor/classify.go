package descriptor

import (
	"fmt"
	"strings"
)

// Route is the routing decision for a descriptor.
type Route string

const (
	// RouteDirect means the content can be read straight off the mount.
	RouteDirect Route = "direct"
	// RouteQueue means the content must be downloaded by the queue service.
	RouteQueue Route = "queue"
)

// Policy selects the classification rule.
type Policy string

const (
	// PolicyExtension decides on extension evidence alone.
	PolicyExtension Policy = "extension"
	// PolicyStrict additionally queues every descriptor naming more than one file.
	PolicyStrict Policy = "strict"
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(value))); p {
	case PolicyExtension, PolicyStrict:
		return p, nil
	default:
		return "", fmt.Errorf("unknown triage policy %q", value)
	}
}

// StreamableExtensions lists the extensions the mount can serve without a
// download. Matching is a case-insensitive substring test.
var StreamableExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".wmv", ".mpeg-ts", ".m2ts", ".webm",
	".iso", ".vob", ".wav", ".flac", ".ogg", ".aac", ".mp3", ".wma", ".alac",
	".cbr", ".cbz", ".epub", ".m4b", ".aw3",
}

// ArchiveMarker indicates a segmented archive release.
const ArchiveMarker = ".rar"

// Verdict is a routing decision plus the evidence behind it.
type Verdict struct {
	Route          Route
	Policy         Policy
	FileCount      int
	StreamableHint string
	ArchiveHint    string
	Reason         string
	// Attempts is the number of parse attempts it took to reach the verdict.
	Attempts int
}

// Classify decides the route for d under policy p. It is a pure function of
// the descriptor's subject and segment text.
func Classify(d *Descriptor, p Policy) Verdict {
	v := Verdict{Route: RouteQueue, Policy: p, FileCount: d.FileCount()}
	if v.FileCount == 0 {
		v.Reason = "descriptor names no files"
		return v
	}

	hints := append(d.SegmentHints(), d.SubjectHints()...)
	for _, hint := range hints {
		lower := strings.ToLower(hint)
		if v.ArchiveHint == "" && strings.Contains(lower, ArchiveMarker) {
			v.ArchiveHint = hint
		}
		if v.StreamableHint == "" {
			for _, ext := range StreamableExtensions {
				if strings.Contains(lower, ext) {
					v.StreamableHint = hint
					break
				}
			}
		}
		if v.ArchiveHint != "" && v.StreamableHint != "" {
			break
		}
	}

	switch {
	case v.ArchiveHint != "":
		v.Reason = "archive marker present"
	case v.StreamableHint == "":
		v.Reason = "no streamable extension found"
	case p == PolicyStrict && v.FileCount > 1:
		v.Reason = fmt.Sprintf("strict policy queues multi-file descriptors (%d files)", v.FileCount)
	default:
		v.Route = RouteDirect
		v.Reason = "streamable extension without archive marker"
	}
	return v
}
