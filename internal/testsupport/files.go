package testsupport

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// NZBFile describes one <file> element written by WriteDescriptor.
type NZBFile struct {
	Subject  string
	Segments []string
}

// NZB renders a namespaced descriptor document for files.
func NZB(files ...NZBFile) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">` + "\n")
	for _, f := range files {
		fmt.Fprintf(&b, "  <file poster=\"test@example.com\" date=\"1700000000\" subject=\"%s\">\n", html.EscapeString(f.Subject))
		b.WriteString("    <groups><group>alt.binaries.test</group></groups>\n    <segments>\n")
		for i, seg := range f.Segments {
			fmt.Fprintf(&b, "      <segment bytes=\"1024\" number=\"%d\">%s</segment>\n", i+1, html.EscapeString(seg))
		}
		b.WriteString("    </segments>\n  </file>\n")
	}
	b.WriteString("</nzb>\n")
	return b.String()
}

// WriteDescriptor writes an NZB document for files to dir/name and returns
// the full path.
func WriteDescriptor(t testing.TB, dir, name string, files ...NZBFile) string {
	t.Helper()
	return WriteRaw(t, filepath.Join(dir, name), NZB(files...))
}

// WriteRaw writes content to path, creating parent directories.
func WriteRaw(t testing.TB, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Streamable returns a single-file descriptor payload naming an mkv.
func Streamable(title string) NZBFile {
	return NZBFile{
		Subject:  fmt.Sprintf(`"%s.mkv" yEnc (1/2)`, title),
		Segments: []string{"part1of2." + title + "@example", "part2of2." + title + "@example"},
	}
}

// Archive returns a single-file descriptor payload naming a rar volume.
func Archive(title string) NZBFile {
	return NZBFile{
		Subject:  fmt.Sprintf(`"%s.part01.rar" yEnc (1/2)`, title),
		Segments: []string{"part1of2." + title + "@example"},
	}
}
