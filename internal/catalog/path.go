package catalog

import (
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ResolvePath maps a remote image URL to the relative path the file will
// occupy under the cache root: "<productCode>/<basename>".
//
// The function is deterministic and does no I/O. A malformed URL or one
// without a usable trailing segment falls back to a generated
// "fallback_<id>.<ext>" name so the caller is never blocked; the fallback
// is random, so callers that care about re-resolution must persist the
// result. Collisions inside a product folder are the caller's problem:
// append a numeric suffix before writing.
func ResolvePath(remoteURL, productCode string) string {
	base := baseName(remoteURL)
	if base == "" {
		base = "fallback_" + uuid.NewString() + extension(remoteURL)
	}
	return path.Join(productCode, base)
}

// baseName extracts the trailing path segment of the URL, stripped of any
// query or fragment. Returns "" when the URL yields nothing usable.
func baseName(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	// Reject names that would escape the product folder.
	if base == ".." || strings.ContainsAny(base, `\`) {
		return ""
	}
	return base
}

// extension makes a best-effort guess at the file extension for fallback
// names, defaulting to .jpg.
func extension(remoteURL string) string {
	if i := strings.LastIndex(remoteURL, "."); i >= 0 {
		ext := remoteURL[i:]
		if len(ext) <= 5 && !strings.ContainsAny(ext, "/?&=#") {
			return ext
		}
	}
	return ".jpg"
}
