// Package transcript records what each participant of a session said, in
// order, and renders it for the terminal.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
)

// Origin identifies who produced a transcript entry.
type Origin int

const (
	OriginSystem Origin = iota
	OriginHuman
	OriginLLM
	OriginDomain
	OriginSearch
	OriginDecision
	OriginRetrieval
)

var originInfo = map[Origin]struct {
	label string
	key   string
	color string
}{
	OriginSystem:    {"System", "system", ""},
	OriginHuman:     {"Human Agent", "human", "#9A8EAF"},
	OriginLLM:       {"LLM Agent", "llm", "#AC7572"},
	OriginDomain:    {"Domain Agent", "domain", "#DAB989"},
	OriginSearch:    {"Search Agent", "search", "#8BA297"},
	OriginDecision:  {"Decision Agent", "decision", "#788BAA"},
	OriginRetrieval: {"Retrieval Agent", "retrieval", "#B5C5DE"},
}

// String returns the display label, e.g. "Search Agent".
func (o Origin) String() string {
	if info, ok := originInfo[o]; ok {
		return info.label
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// Hex returns the origin's colour, or "" for the terminal default.
func (o Origin) Hex() string {
	return originInfo[o].color
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	info, ok := originInfo[o]
	if !ok {
		return nil, fmt.Errorf("unknown origin %d", int(o))
	}
	return []byte(info.key), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(text []byte) error {
	for origin, info := range originInfo {
		if info.key == string(text) {
			*o = origin
			return nil
		}
	}
	return fmt.Errorf("unknown origin %q", text)
}

// Entry is one transcript item.
type Entry struct {
	Origin Origin    `json:"origin" yaml:"origin"`
	Text   string    `json:"text" yaml:"text"`
	At     time.Time `json:"at" yaml:"at"`
}

// Transcript is an append-only log of entries. It is safe for concurrent
// use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{now: time.Now}
}

// Add appends an entry.
func (t *Transcript) Add(origin Origin, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Origin: origin, Text: text, At: t.now()})
}

// Addf appends a formatted entry.
func (t *Transcript) Addf(origin Origin, format string, args ...any) {
	t.Add(origin, fmt.Sprintf(format, args...))
}

// Entries returns a copy of all entries.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Since returns a copy of the entries from index i on.
func (t *Transcript) Since(i int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if i >= len(t.entries) {
		return nil
	}
	out := make([]Entry, len(t.entries)-i)
	copy(out, t.entries[i:])
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Truncate drops every entry from index n on.
func (t *Transcript) Truncate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n < len(t.entries) {
		t.entries = t.entries[:n]
	}
}

// Reset drops all entries.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Render formats entries as "[Label]\ntext" blocks separated by blank
// lines. With color set, each block is styled with its origin's colour.
func Render(entries []Entry, color bool) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		block := "[" + e.Origin.String() + "]\n" + strings.TrimRight(e.Text, "\n")
		if color && e.Origin.Hex() != "" {
			block = lipgloss.NewStyle().Foreground(lipgloss.Color(e.Origin.Hex())).Render(block)
		}
		sb.WriteString(block)
	}
	if len(entries) > 0 {
		sb.WriteString("\n")
	}
	return sb.String()
}
