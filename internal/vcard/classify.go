package vcard

import (
	"fmt"
	"strings"
)

// Kind is the entity class of a parsed card.
type Kind int

const (
	// KindPerson is an individual contact.
	KindPerson Kind = iota
	// KindContactGroup is a directory-server group of contacts.
	KindContactGroup
)

func (k Kind) String() string {
	if k == KindContactGroup {
		return "group"
	}
	return "person"
}

// ErrEmptyCard is returned when a card with zero properties reaches
// classification. Such cards are invalid and rejected up front.
var ErrEmptyCard = fmt.Errorf("card has no properties")

// Classify decides whether a card represents a person or a contact
// group. KIND decides when present; the legacy vendor kind field is
// consulted next; a card with neither defaults to person.
func Classify(card *Card) (Kind, error) {
	if card == nil || card.Len() == 0 {
		return KindPerson, ErrEmptyCard
	}
	for _, field := range []string{FieldKind, FieldLegacyKind} {
		value, err := card.Value(field)
		if err != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(value), KindGroup) {
			return KindContactGroup, nil
		}
		return KindPerson, nil
	}
	return KindPerson, nil
}
