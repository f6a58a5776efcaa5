package common

import (
	"strings"

	"github.com/google/uuid"
)

// DeriveChunkID returns a deterministic UUID for a content chunk,
// computed as the MD5-based UUID of the joined composite key parts
// (e.g. commit id + filename, or pdf url + page + chunk index). The
// same key always yields the same id, so redelivered chunks upsert
// over their previous copy instead of duplicating.
func DeriveChunkID(parts ...string) string {
	key := strings.Join(parts, "|")
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(key)).String()
}
