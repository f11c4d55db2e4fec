package searchcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/elis-salobehaj/log-ai/timewindow"
)

// Fingerprint is the fixed-width cache key identifying one unique
// search request.
type Fingerprint string

// NewFingerprint derives the cache key from the components of a search
// query. The service-name set is sorted first, so callers supplying the
// same names in any order produce the same fingerprint.
func NewFingerprint(serviceNames []string, pattern string, window timewindow.Window, shape string) Fingerprint {
	names := make([]string, len(serviceNames))
	copy(names, serviceNames)
	sort.Strings(names)

	var b strings.Builder
	// Each name is NUL-terminated so a name containing a separator
	// cannot alias a different name set.
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(0)
	}
	b.WriteByte('\n')
	b.WriteString(pattern)
	b.WriteByte('\n')
	b.WriteString(window.Start.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	b.WriteString(window.End.UTC().Format(time.RFC3339Nano))
	b.WriteByte('\n')
	b.WriteString(shape)

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:16]))
}

func (f Fingerprint) String() string {
	return string(f)
}
