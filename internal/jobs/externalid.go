package jobs

import (
	"github.com/farreach/jobingest/internal/hash/sha256"
)

// ExternalID derives the stable deduplication identifier for a job from a
// seed (normally the job URL, otherwise a source-name/title composite).
// Truncated to 32 hex characters to match the stored column width.
func ExternalID(seed string) string {
	digest := sha256.Sum(seed)
	if len(digest) > 32 {
		digest = digest[:32]
	}
	return digest
}
