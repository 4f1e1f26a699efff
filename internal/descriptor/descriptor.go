package descriptor

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"blackhole/internal/services"
)

var (
	// ErrMalformedDescriptor marks input that is not a well-formed document,
	// including documents cut short while still being written.
	ErrMalformedDescriptor = services.ErrMalformedDescriptor
	// ErrIOFailure marks descriptors that could not be opened or read.
	ErrIOFailure = services.ErrIOFailure
)

// File is one <file> entry of a descriptor.
type File struct {
	Subject  string
	Segments []string
}

// Descriptor is the parsed, classification-relevant view of an NZB document.
type Descriptor struct {
	Files []File
	// Stray holds segment text found outside any <file> element.
	Stray []string
}

// FileCount returns the number of <file> elements.
func (d *Descriptor) FileCount() int {
	if d == nil {
		return 0
	}
	return len(d.Files)
}

// SegmentHints returns every segment text in document order.
func (d *Descriptor) SegmentHints() []string {
	if d == nil {
		return nil
	}
	hints := make([]string, 0, len(d.Stray))
	for _, f := range d.Files {
		hints = append(hints, f.Segments...)
	}
	return append(hints, d.Stray...)
}

// SubjectHints returns the non-empty subject attribute of every file.
func (d *Descriptor) SubjectHints() []string {
	if d == nil {
		return nil
	}
	hints := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		if f.Subject != "" {
			hints = append(hints, f.Subject)
		}
	}
	return hints
}

// ParseFile opens and parses the descriptor at path.
func ParseFile(path string) (*Descriptor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(ErrIOFailure, "descriptor", "open", path, err)
	}
	defer file.Close()

	d, err := Parse(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse reads a descriptor document from r.
func Parse(r io.Reader) (*Descriptor, error) {
	decoder := xml.NewDecoder(&readErrorReader{r: r})
	decoder.CharsetReader = charsetReader

	d := &Descriptor{}
	var (
		current   *File
		inSegment bool
		segment   strings.Builder
		sawRoot   bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			if !sawRoot {
				return nil, fmt.Errorf("%w: empty document: %w", ErrMalformedDescriptor, io.ErrUnexpectedEOF)
			}
			break
		}
		if err != nil {
			var readErr *readError
			if errors.As(err, &readErr) {
				return nil, services.Wrap(ErrIOFailure, "descriptor", "read", "", readErr.err)
			}
			return nil, fmt.Errorf("%w: %w", ErrMalformedDescriptor, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			switch t.Name.Local {
			case "file":
				d.Files = append(d.Files, File{Subject: attrValue(t.Attr, "subject")})
				current = &d.Files[len(d.Files)-1]
			case "segment":
				inSegment = true
				segment.Reset()
			}
		case xml.CharData:
			if inSegment {
				segment.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "segment":
				if !inSegment {
					continue
				}
				inSegment = false
				text := strings.TrimSpace(segment.String())
				if current != nil {
					current.Segments = append(current.Segments, text)
				} else {
					d.Stray = append(d.Stray, text)
				}
			case "file":
				current = nil
			}
		}
	}
	return d, nil
}

// IsTruncated reports whether err describes a document that ended before it
// was complete, which is what a descriptor still being written looks like.
func IsTruncated(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return strings.Contains(syntaxErr.Msg, "unexpected EOF")
	}
	return false
}

func attrValue(attrs []xml.Attr, name string) string {
	for _, attr := range attrs {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return input, nil
	}
	return enc.NewDecoder().Reader(input), nil
}

// readError separates failures of the underlying reader from syntax errors,
// which encoding/xml otherwise reports through the same channel.
type readError struct {
	err error
}

func (e *readError) Error() string { return e.err.Error() }

func (e *readError) Unwrap() error { return e.err }

type readErrorReader struct {
	r io.Reader
}

func (r *readErrorReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		err = &readError{err: err}
	}
	return n, err
}
