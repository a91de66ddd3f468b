// Package filetool provides the file system capabilities: creating, reading,
// writing, deleting, inspecting and listing files and directories.
//
// All paths are normalized before use. Relative paths resolve against
// Options.BaseDir, and anything under one of Options.ForbiddenRoots is
// rejected. File names supplied separately from their directory are
// sanitized and may not escape that directory.
package filetool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/hupe1980/lang2file/tool"
)

// DefaultMaxReadBytes caps read_file at 10 MB.
const DefaultMaxReadBytes int64 = 10 * 1024 * 1024

var (
	// ErrForbiddenPath is returned for paths under a forbidden root.
	ErrForbiddenPath = errors.New("path is under a forbidden root")
	// ErrPathEscape is returned when a file name resolves outside its directory.
	ErrPathEscape = errors.New("file name escapes the target directory")
	// ErrEmptyPath is returned for blank path arguments.
	ErrEmptyPath = errors.New("path must not be empty")
)

var illegalNameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// Options configures the file capabilities.
type Options struct {
	// BaseDir anchors relative paths. Empty means the process working directory.
	BaseDir string
	// ForbiddenRoots lists path prefixes no capability may touch.
	ForbiddenRoots []string
	// MaxReadBytes bounds read_file. Zero selects DefaultMaxReadBytes.
	MaxReadBytes int64
}

// Toolset bundles the file capabilities sharing one set of path rules.
type Toolset struct {
	opts Options
}

// DefaultForbiddenRoots returns the platform default: the system drive on
// Windows, nothing elsewhere.
func DefaultForbiddenRoots() []string {
	if runtime.GOOS == "windows" {
		return []string{`C:\`}
	}
	return nil
}

// New creates a Toolset.
func New(optFns ...func(o *Options)) *Toolset {
	opts := Options{
		ForbiddenRoots: DefaultForbiddenRoots(),
		MaxReadBytes:   DefaultMaxReadBytes,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxReadBytes <= 0 {
		opts.MaxReadBytes = DefaultMaxReadBytes
	}

	return &Toolset{opts: opts}
}

// Capabilities returns the file capabilities in a fixed order.
func (ts *Toolset) Capabilities() []tool.Tool {
	return []tool.Tool{
		ts.createFileTool(),
		ts.createDirectoryTool(),
		ts.readFileTool(),
		ts.writeFileTool(),
		ts.deleteFileTool(),
		ts.deleteFileByPartsTool(),
		ts.fileInfoTool(),
		ts.listDirectoryTool(),
	}
}

// resolve normalizes a user supplied path and applies the forbidden roots.
func (ts *Toolset) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsAbs(p) && ts.opts.BaseDir != "" {
		p = filepath.Join(ts.opts.BaseDir, p)
	}

	p = filepath.Clean(p)

	for _, root := range ts.opts.ForbiddenRoots {
		if within(p, root) {
			return "", fmt.Errorf("%w: %s", ErrForbiddenPath, p)
		}
	}

	return p, nil
}

// within reports whether p equals root or lies below it. Comparison is
// case-insensitive so drive letters match regardless of spelling.
func within(p, root string) bool {
	root = filepath.Clean(strings.TrimSpace(root))
	if root == "" || root == "." {
		return false
	}

	lp, lr := strings.ToLower(p), strings.ToLower(root)
	if lp == lr {
		return true
	}

	if !strings.HasSuffix(lr, string(filepath.Separator)) {
		lr += string(filepath.Separator)
	}

	return strings.HasPrefix(lp, lr)
}

// SanitizeFileName replaces characters that are illegal in file names on
// common platforms with an underscore.
func SanitizeFileName(name string) string {
	return illegalNameChars.ReplaceAllString(name, "_")
}

// joinName places a sanitized file name inside dir and rejects results that
// leave dir (for example "..").
func joinName(dir, name string) (string, error) {
	full := filepath.Join(dir, SanitizeFileName(name))

	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, name)
	}

	return full, nil
}

// lookupEncoding maps an encoding label (UTF-8, GBK, latin1, ...) to a codec.
// Blank selects UTF-8.
func lookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return unicode.UTF8, nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}

	return enc, nil
}

func statKind(info os.FileInfo) string {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	case info.IsDir():
		return "directory"
	default:
		return "file"
	}
}
