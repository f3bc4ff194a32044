package vcard

import (
	"io"
	"strings"
)

const (
	beginLine = "BEGIN:VCARD"
	endLine   = "END:VCARD"
)

// Decoder reads cards from a wire-format text stream.
type Decoder struct {
	lines []string
	pos   int
}

// NewDecoder creates a decoder over the full contents of r. The input is
// unfolded up front; decoding itself performs no further I/O.
func NewDecoder(r io.Reader) (*Decoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &Decoder{lines: unfold(string(data))}, nil
}

// Decode returns the next card in the stream, or io.EOF when no
// complete BEGIN/END block remains. Text outside begin/end markers is
// skipped, as is a trailing block truncated before its end marker.
func (d *Decoder) Decode() (*Card, error) {
	for ; d.pos < len(d.lines); d.pos++ {
		if strings.EqualFold(d.lines[d.pos], beginLine) {
			d.pos++
			if card := d.decodeCard(); card != nil {
				return card, nil
			}
		}
	}
	return nil, io.EOF
}

// Parse decodes every card in text. A block with no recognizable
// begin/end markers yields zero cards rather than an error; the caller
// logs and moves on.
func Parse(text string) []*Card {
	d := &Decoder{lines: unfold(text)}
	var cards []*Card
	for {
		card, err := d.Decode()
		if err != nil {
			return cards
		}
		cards = append(cards, card)
	}
}

// decodeCard consumes lines up to the end marker. A block that runs out
// of input before its end marker is malformed and yields nil.
func (d *Decoder) decodeCard() *Card {
	card := NewCard()
	grouped := make(map[string][]*Property)
	var groupOrder []string
	terminated := false

	for ; d.pos < len(d.lines); d.pos++ {
		line := d.lines[d.pos]
		if strings.EqualFold(line, endLine) {
			terminated = true
			break
		}
		prop := parseLine(line)
		if prop == nil {
			continue
		}
		if prop.group != "" {
			if _, seen := grouped[prop.group]; !seen {
				groupOrder = append(groupOrder, prop.group)
			}
			grouped[prop.group] = append(grouped[prop.group], prop)
			continue
		}
		card.Add(prop)
	}

	if !terminated {
		return nil
	}

	// Runs once per block, before the block is finalized.
	for _, group := range groupOrder {
		mergeGroup(card, grouped[group])
	}
	return card
}

// mergeGroup resolves one held-aside wire group: the label property's
// value is applied to every non-label property in the group as an extra
// TYPE value, then only the non-label properties are attached. Label-only
// groups are discarded entirely.
func mergeGroup(card *Card, props []*Property) {
	label := ""
	for _, p := range props {
		if p.Key == FieldLabel {
			label = p.Value
		}
	}
	for _, p := range props {
		if p.Key == FieldLabel {
			continue
		}
		if label != "" {
			p.AddParam(ParamType, label)
		}
		p.group = ""
		card.Add(p)
	}
}

// unfold splits text into logical lines: any physical line beginning with
// whitespace is a continuation of the previous one, with the single
// leading whitespace byte stripped and the remainder appended verbatim.
func unfold(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var logical []string
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(logical) > 0 {
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}
	return logical
}

// parseLine splits one logical line of the shape
// [group.]KEY[;PARAM=v1,v2]*:value into a property. Lines without an
// unescaped colon are unusable and dropped.
func parseLine(line string) *Property {
	sep := indexUnescaped(line, ':')
	if sep < 0 {
		return nil
	}
	prefix, value := line[:sep], line[sep+1:]

	segments := strings.Split(prefix, ";")
	key := segments[0]
	group := ""
	if dot := strings.Index(key, "."); dot >= 0 {
		group = key[:dot]
		key = key[dot+1:]
	}
	if key == "" {
		return nil
	}

	prop := NewProperty(key, value)
	prop.group = group
	for _, seg := range segments[1:] {
		if seg == "" {
			continue
		}
		eq := strings.Index(seg, "=")
		if eq < 0 {
			// Bare tokens are the 2.1-era spelling of TYPE values.
			prop.AddParam(ParamType, seg)
			continue
		}
		name := seg[:eq]
		if name == "" {
			continue
		}
		prop.AddParam(name, strings.Split(seg[eq+1:], ",")...)
	}
	return prop
}

// indexUnescaped returns the index of the first occurrence of c not
// preceded by a backslash, or -1. Colons inside the value are never
// re-split by the caller.
func indexUnescaped(s string, c byte) int {
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == c:
			return i
		}
	}
	return -1
}
