// Package sink persists merged results: as warehouse tables and as
// compressed parquet blobs.
package sink

import (
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is appended to every persisted table name.
const TimestampLayout = "20060102_15_04_05"

// maxIdentifier is the Postgres identifier limit in bytes.
const maxIdentifier = 63

var invalidIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// SanitizeName lowercases base and reduces it to [a-z0-9_].
func SanitizeName(base string) string {
	s := invalidIdent.ReplaceAllString(strings.ToLower(base), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "result"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "t_" + s
	}
	return s
}

// TableName builds the physical table name for base at now.
func TableName(base string, now time.Time) string {
	suffix := "_" + now.Format(TimestampLayout)
	s := SanitizeName(base)
	if len(s)+len(suffix) > maxIdentifier {
		s = strings.TrimRight(s[:maxIdentifier-len(suffix)], "_")
	}
	return s + suffix
}

// RemoteBase is the table base name used for an owner's remote runs.
func RemoteBase(owner string) string {
	return owner + "_rmt"
}
