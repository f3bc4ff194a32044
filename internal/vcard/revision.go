package vcard

import "time"

// revisionLayout is the exact shape of a REV value on the wire.
const revisionLayout = "20060102T150405Z"

// ParseRevision converts a REV value into a timestamp. Anything that is
// not exactly YYYYMMDDTHHMMSSZ falls back to the current time so one bad
// timestamp never aborts a whole sync pass.
func ParseRevision(value string) time.Time {
	if len(value) != len(revisionLayout) {
		return time.Now().UTC()
	}
	t, err := time.Parse(revisionLayout, value)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// FormatRevision renders a timestamp as a REV value.
func FormatRevision(t time.Time) string {
	return t.UTC().Format(revisionLayout)
}
