package errdefs

import "errors"

// Kind names an error's taxonomy class for result summaries.
func Kind(err error) string {
	var (
		fetch    *SourceFetchError
		version  *VersionResolutionError
		conflict *ConflictError
		cycle    *CycleError
		dup      *DuplicatePathError
		checksum *ChecksumMismatchError
		io       *InstallIOError
		pathsec  *PathSecurityError
	)
	switch {
	case errors.As(err, &fetch):
		return "source_fetch"
	case errors.As(err, &version):
		return "version_resolution"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &cycle):
		return "cycle"
	case errors.As(err, &dup):
		return "duplicate_path"
	case errors.As(err, &checksum):
		return "checksum_mismatch"
	case errors.As(err, &pathsec):
		return "path_security"
	case errors.As(err, &io):
		return "install_io"
	}
	return "unknown"
}
