package storage

import (
	"path"
	"strings"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
)

// DestinationKey derives the key of a processed output: sourcePrefix is
// stripped from sourceKey, prefix is prepended and the extension is replaced
// by the one of format.
//
//	DestinationKey("thumbnail", "uploads/a/b.jpg", "uploads/", core.FormatWebP) == "thumbnail/a/b.webp"
func DestinationKey(prefix, sourceKey, sourcePrefix string, format core.Format) string {
	key := strings.TrimPrefix(sourceKey, sourcePrefix)
	key = strings.TrimLeft(key, "/")
	key = strings.TrimSuffix(key, path.Ext(key)) + format.Extension()

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// HasPrefixDir reports whether key lies below the directory prefix.  An
// empty prefix matches everything.
func HasPrefixDir(key, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(strings.TrimLeft(key, "/"), prefix+"/")
}
