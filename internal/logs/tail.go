package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 250 * time.Millisecond

// TailOptions controls a single Tail call. A negative Offset asks for the last
// Limit lines.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Match drops lines it returns false for. Nil keeps every line.
	Match func(string) bool
}

// TailResult holds the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads the log file at path.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	result := TailResult{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		lines, offset, err := readLastLines(path, opts.Limit, opts.Match)
		if err != nil {
			return result, err
		}
		result.Lines = lines
		result.Offset = offset
		if opts.Follow && opts.Wait > 0 && len(lines) == 0 {
			return waitForLines(ctx, path, result.Offset, opts.Wait, opts.Match)
		}
		return result, nil
	}

	return readFromOffset(ctx, path, opts.Offset, opts.Follow, opts.Wait, opts.Match)
}

// Follow emits the last limit lines and then every new line until ctx is
// cancelled.
func Follow(ctx context.Context, path string, limit int, match func(string) bool, emit func(string)) error {
	offset := int64(-1)
	if limit <= 0 {
		offset = 0
	}
	for {
		res, err := Tail(ctx, path, TailOptions{Offset: offset, Limit: limit, Follow: true, Wait: time.Second, Match: match})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		for _, line := range res.Lines {
			emit(line)
		}
		offset = res.Offset
		limit = 0
		if ctx.Err() != nil {
			return nil
		}
	}
}

func readLastLines(path string, limit int, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	scanner := newScanner(file)
	ring := make([]string, limit)
	count := 0
	idx := 0
	for scanner.Scan() {
		line := scanner.Text()
		if match != nil && !match(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

func readFromOffset(ctx context.Context, path string, offset int64, follow bool, wait time.Duration, match func(string) bool) (TailResult, error) {
	result := TailResult{Offset: offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	// A file shorter than the offset was rotated or truncated.
	if offset > info.Size() {
		offset = 0
	}

	lines, newOffset, err := readForward(path, offset, match)
	if err != nil {
		return result, err
	}
	result.Lines = lines
	result.Offset = newOffset

	if follow && wait > 0 && len(lines) == 0 {
		return waitForLines(ctx, path, newOffset, wait, match)
	}
	return result, nil
}

func readForward(path string, offset int64, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	// Only whole lines are consumed; a partial trailing line is read again
	// once its newline lands.
	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	consumed := offset
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(chunk))
		line := chunk[:len(chunk)-1]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if match != nil && !match(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines, consumed, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match func(string) bool) (TailResult, error) {
	deadline := time.Now().Add(wait)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := TailResult{Offset: offset}
	for {
		lines, newOffset, err := readForward(path, offset, match)
		if err != nil {
			return result, err
		}
		offset = newOffset
		if len(lines) > 0 {
			result.Lines = lines
			result.Offset = newOffset
			return result, nil
		}
		if time.Now().After(deadline) {
			result.Offset = newOffset
			return result, nil
		}

		select {
		case <-ctx.Done():
			result.Offset = newOffset
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
