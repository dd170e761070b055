package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --- Progress log codec ---
//
// A progress log is an optional preamble followed by entries:
//
//	<!-- progress seq=3 at=2026-01-02T15:04:05.123456789Z len=42 -->
//	<42 bytes of entry body>
//	<blank line>
//
// The byte length makes the log parse back exactly whatever the body holds.

const entryHeaderPrefix = "<!-- progress "

// Entry is one progress log entry.
type Entry struct {
	Seq     int       `json:"seq" yaml:"seq"`
	At      time.Time `json:"at" yaml:"at"`
	Content string    `json:"content" yaml:"content"`
}

// FormatEntry renders one entry including its trailing blank line.
func FormatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sseq=%d at=%s len=%d -->\n", entryHeaderPrefix,
		e.Seq, e.At.UTC().Format(time.RFC3339Nano), len(e.Content))
	b.WriteString(e.Content)
	b.WriteString("\n\n")
	return b.String()
}

// FormatProgress renders a full log from a preamble and entries.
func FormatProgress(preamble string, entries []Entry) string {
	var b strings.Builder
	b.WriteString(preamble)
	for _, e := range entries {
		b.WriteString(FormatEntry(e))
	}
	return b.String()
}

// ParseProgress splits a progress log into its preamble and entries.
func ParseProgress(content string) (preamble string, entries []Entry, err error) {
	idx := findHeader(content, 0)
	if idx < 0 {
		return content, nil, nil
	}
	preamble = content[:idx]

	pos := idx
	for pos < len(content) {
		// Skip blank lines between entries.
		for pos < len(content) && content[pos] == '\n' {
			pos++
		}
		if pos >= len(content) {
			break
		}
		if !strings.HasPrefix(content[pos:], entryHeaderPrefix) {
			return "", nil, fmt.Errorf("malformed progress log at byte %d: expected entry header", pos)
		}
		eol := strings.IndexByte(content[pos:], '\n')
		if eol < 0 {
			return "", nil, fmt.Errorf("malformed progress log at byte %d: unterminated header", pos)
		}
		e, n, err := parseHeader(content[pos : pos+eol])
		if err != nil {
			return "", nil, fmt.Errorf("malformed progress log at byte %d: %w", pos, err)
		}
		start := pos + eol + 1
		end := start + n
		if end > len(content) {
			return "", nil, fmt.Errorf("malformed progress log: entry %d truncated", e.Seq)
		}
		e.Content = content[start:end]
		entries = append(entries, e)
		pos = end
	}
	return preamble, entries, nil
}

// findHeader returns the index of the first entry header that starts a
// line at or after from, or -1.
func findHeader(content string, from int) int {
	for i := from; i < len(content); {
		j := strings.Index(content[i:], entryHeaderPrefix)
		if j < 0 {
			return -1
		}
		at := i + j
		if at == 0 || content[at-1] == '\n' {
			return at
		}
		i = at + 1
	}
	return -1
}

func parseHeader(line string) (Entry, int, error) {
	body := strings.TrimSuffix(strings.TrimPrefix(line, entryHeaderPrefix), " -->")
	if body == line {
		return Entry{}, 0, fmt.Errorf("bad header %q", line)
	}
	var e Entry
	n := -1
	for _, field := range strings.Fields(body) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return Entry{}, 0, fmt.Errorf("bad header field %q", field)
		}
		switch k {
		case "seq":
			seq, err := strconv.Atoi(v)
			if err != nil {
				return Entry{}, 0, fmt.Errorf("bad seq %q", v)
			}
			e.Seq = seq
		case "at":
			at, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return Entry{}, 0, fmt.Errorf("bad timestamp %q", v)
			}
			e.At = at
		case "len":
			l, err := strconv.Atoi(v)
			if err != nil || l < 0 {
				return Entry{}, 0, fmt.Errorf("bad length %q", v)
			}
			n = l
		}
	}
	if n < 0 || e.Seq <= 0 {
		return Entry{}, 0, fmt.Errorf("header %q missing seq or len", line)
	}
	return e, n, nil
}

// lastSeq returns the sequence number of the last entry in content.
func lastSeq(content string) (int, error) {
	_, entries, err := ParseProgress(content)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Seq, nil
}
