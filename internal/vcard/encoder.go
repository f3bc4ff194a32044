package vcard

import (
	"io"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// maxLineLen is the longest physical line emitted before folding.
	maxLineLen = 75
	// contLineLen is the payload width of a continuation line, which is
	// emitted with a single leading space.
	contLineLen = 74
)

// Encoder writes cards in wire format.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one card: BEGIN sentinel, every property in field
// insertion order then property insertion order, END sentinel. Lines are
// CRLF-terminated and folded at 75 bytes.
func (e *Encoder) Encode(card *Card) error {
	var b strings.Builder
	writeCard(&b, card)
	_, err := io.WriteString(e.w, b.String())
	return err
}

// Serialize renders cards to wire text. The output is deterministic for
// a given card: field order is insertion order and parameter names are
// sorted.
func Serialize(cards ...*Card) string {
	var b strings.Builder
	for _, card := range cards {
		writeCard(&b, card)
	}
	return b.String()
}

func writeCard(b *strings.Builder, card *Card) {
	writeFolded(b, beginLine)
	for _, key := range card.Keys() {
		for _, prop := range card.Properties(key) {
			writeFolded(b, formatProperty(prop))
		}
	}
	writeFolded(b, endLine)
}

// formatProperty renders KEY;PARAM=v1,v2:value.
func formatProperty(p *Property) string {
	var b strings.Builder
	b.WriteString(p.Key)

	names := make([]string, 0, len(p.Params))
	for name := range p.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte(';')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(p.Params[name], ","))
	}

	b.WriteByte(':')
	b.WriteString(p.Value)
	return b.String()
}

// writeFolded emits one logical line, hard-wrapped when it exceeds 75
// bytes: the first 75 bytes stand alone, each subsequent chunk of at
// most 74 bytes goes out as a space-prefixed continuation line. Cuts
// never land inside a multi-byte UTF-8 rune.
func writeFolded(b *strings.Builder, line string) {
	if len(line) <= maxLineLen {
		b.WriteString(line)
		b.WriteString("\r\n")
		return
	}
	n := foldPoint(line, maxLineLen)
	b.WriteString(line[:n])
	b.WriteString("\r\n")
	for rest := line[n:]; len(rest) > 0; {
		n = foldPoint(rest, contLineLen)
		b.WriteByte(' ')
		b.WriteString(rest[:n])
		b.WriteString("\r\n")
		rest = rest[n:]
	}
}

// foldPoint returns the largest cut at or below budget that lands on a
// rune boundary. Invalid UTF-8 is cut at the raw budget.
func foldPoint(s string, budget int) int {
	if len(s) <= budget {
		return len(s)
	}
	for n := budget; n > budget-utf8.UTFMax && n > 0; n-- {
		if utf8.RuneStart(s[n]) {
			return n
		}
	}
	return budget
}
