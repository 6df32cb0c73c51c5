// Package artifact stores rendered report documents.
package artifact

import (
	"path"

	"github.com/oklog/ulid/v2"
)

// newRef names a new object. ULIDs keep refs of one report sortable by
// creation time.
func newRef(prefix, fileName string) string {
	name := ulid.Make().String()
	if fileName != "" {
		name += "-" + fileName
	}
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
