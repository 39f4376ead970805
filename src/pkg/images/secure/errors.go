package secure

import "errors"

// Every failure returned by Save wraps exactly one of these.
var (
	// ErrTooLarge is returned when the buffer exceeds MaxBytes.
	ErrTooLarge = errors.New("upload: file too large")

	// ErrUnsupportedType is returned when the buffer is neither PNG nor JPEG.
	ErrUnsupportedType = errors.New("upload: unsupported image type")

	// ErrRootNotFound is returned when the confinement root cannot be resolved
	// to an existing directory.
	ErrRootNotFound = errors.New("upload: storage root not found")

	// ErrPathEscape is returned when the resolved target is not below the root.
	ErrPathEscape = errors.New("upload: path escapes storage root")

	// ErrSymlinkAncestor is returned when a directory above the target is a symbolic link.
	ErrSymlinkAncestor = errors.New("upload: symbolic link in target ancestry")

	// ErrWriteFailed is returned when the file could not be written.
	ErrWriteFailed = errors.New("upload: write failed")
)

// Kind names an error class in a form suitable for metric labels, log
// attributes and API responses.
type Kind string

const (
	KindNone            Kind = ""
	KindTooLarge        Kind = "too_large"
	KindUnsupportedType Kind = "unsupported_type"
	KindRootNotFound    Kind = "root_not_found"
	KindPathEscape      Kind = "path_escape"
	KindSymlinkAncestor Kind = "symlink_ancestor"
	KindWriteFailed     Kind = "write_failed"
	KindUnknown         Kind = "unknown"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrTooLarge, KindTooLarge},
	{ErrUnsupportedType, KindUnsupportedType},
	{ErrRootNotFound, KindRootNotFound},
	{ErrPathEscape, KindPathEscape},
	{ErrSymlinkAncestor, KindSymlinkAncestor},
	{ErrWriteFailed, KindWriteFailed},
}

// KindOf maps err onto its Kind. A nil error yields KindNone and errors that
// did not originate here yield KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
