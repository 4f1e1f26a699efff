package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"blackhole/internal/config"
	"blackhole/internal/notifications"
	"blackhole/internal/services/arr"
	"blackhole/internal/services/rclone"
	"blackhole/internal/services/sabnzbd"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckMountRoot verifies the rclone mount is present and listable. Only read
// access is required: blackhole never writes through the mount.
func CheckMountRoot(path string) Result {
	const name = "Mount root"
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if len(entries) == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (empty; is the rclone mount up?)", path)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d entries)", path, len(entries))}
}

// CheckRclone verifies the rclone remote-control API answers.
func CheckRclone(ctx context.Context, url string, timeout time.Duration) Result {
	const name = "rclone rc"
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	version, err := rclone.NewClient(url, timeout).Version(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable (" + version + ")"}
}

// CheckSABnzbd verifies SABnzbd connectivity and authentication.
func CheckSABnzbd(ctx context.Context, url, apiKey string, timeout time.Duration) Result {
	const name = "SABnzbd"
	if strings.TrimSpace(apiKey) == "" {
		return Result{Name: name, Detail: "missing api key"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	version, err := sabnzbd.NewClient(url, apiKey, timeout).Version(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable (version " + version + ")"}
}

// CheckLibrary verifies the library service behind a category.
func CheckLibrary(ctx context.Context, category config.Category, timeout time.Duration) Result {
	name := "Library " + category.Name
	kind, err := arr.ParseKind(category.Library.Kind)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if strings.TrimSpace(category.Library.APIKey) == "" {
		return Result{Name: name, Detail: "missing api key"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := arr.NewClient(kind, category.Library.URL, category.Library.APIKey, timeout).SystemStatus(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable (" + status + ")"}
}

// CheckNotifications sends a test message to the configured ntfy topic.
func CheckNotifications(ctx context.Context, cfg *config.Config) Result {
	const name = "ntfy"
	if err := notifications.NewService(cfg).Publish(ctx, notifications.EventTest, nil); err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Test notification sent"}
}

// summarizeError produces a human-readable summary for remote check failures.
func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (service unreachable)"
	}
	return err.Error()
}
