package dispatch

import "bytes"

var truncationMarker = []byte("\n... [log truncated] ...\n")

// Truncate keeps the first headLines lines and the last tailBytes bytes of
// a build log. Failure signals cluster near the end of CI logs while setup
// context lives near the start, so both regions are preserved. The policy
// is idempotent: input already within the combined budget is returned
// unchanged, byte for byte.
func Truncate(buildLog []byte, headLines, tailBytes int) []byte {
	if tailBytes <= 0 {
		tailBytes = len(buildLog)
	}

	head := headSlice(buildLog, headLines)
	if len(buildLog) <= len(head)+tailBytes+len(truncationMarker) {
		return buildLog
	}

	tail := buildLog[len(buildLog)-tailBytes:]
	out := make([]byte, 0, len(head)+len(truncationMarker)+len(tail))
	out = append(out, head...)
	out = append(out, truncationMarker...)
	out = append(out, tail...)
	return out
}

// headSlice returns the prefix covering the first n lines, including the
// trailing newline of the last one.
func headSlice(b []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	offset := 0
	for i := 0; i < n; i++ {
		next := bytes.IndexByte(b[offset:], '\n')
		if next < 0 {
			return b
		}
		offset += next + 1
	}
	return b[:offset]
}
