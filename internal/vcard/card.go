// Package vcard implements the line-oriented contact record format spoken
// by the directory servers we sync against: foldable lines, BEGIN/END
// delimited blocks, grouped properties and multi-valued parameters.
package vcard

import (
	"fmt"
	"strings"
)

// Well-known field names. Anything not listed in singularFields is
// treated as multi-valued.
const (
	FieldUID           = "UID"
	FieldFormattedName = "FN"
	FieldName          = "N"
	FieldOrganization  = "ORG"
	FieldTitle         = "TITLE"
	FieldRole          = "ROLE"
	FieldRevision      = "REV"
	FieldKind          = "KIND"
	FieldBirthday      = "BDAY"
	FieldAddress       = "ADR"
	FieldEmail         = "EMAIL"
	FieldTelephone     = "TEL"
	FieldPhoto         = "PHOTO"
	FieldURL           = "URL"
	FieldMember        = "MEMBER"
	FieldSocialProfile = "X-SOCIALPROFILE"

	// Vendor extensions used by Apple-style address book servers.
	FieldLabel        = "X-ABLABEL"
	FieldLegacyKind   = "X-ADDRESSBOOKSERVER-KIND"
	FieldLegacyMember = "X-ADDRESSBOOKSERVER-MEMBER"
)

// Parameter names.
const (
	ParamType      = "TYPE"
	ParamMediaType = "MEDIATYPE"
	ParamEncoding  = "ENCODING"
)

// KindGroup is the KIND value that marks a card as a contact group.
const KindGroup = "group"

// ErrFieldNotFound is returned when a requested field has no occurrence
// on a card. A present-but-empty value is not an error.
var ErrFieldNotFound = fmt.Errorf("field not found")

// singularFields maps field names to "exactly one value" arity. The
// accessor consults this table instead of scattering string comparisons;
// unknown fields default to multi.
var singularFields = map[string]bool{
	FieldUID:           true,
	FieldFormattedName: true,
	FieldName:          true,
	FieldOrganization:  true,
	FieldTitle:         true,
	FieldRole:          true,
	FieldRevision:      true,
	FieldKind:          true,
	FieldBirthday:      true,
	FieldLegacyKind:    true,
}

// Singular reports whether a field name carries exactly one value.
func Singular(key string) bool {
	return singularFields[strings.ToUpper(key)]
}

// Property is a single field occurrence: an uppercased key, a parameter
// map of lowercased value sets, and the raw string payload. The group
// label is only populated while a card is being decoded; it is consumed
// by the label merge and never survives into a finished card.
type Property struct {
	Key    string
	Params map[string][]string
	Value  string

	group string
}

// NewProperty creates a property with a normalized key and no parameters.
func NewProperty(key, value string) *Property {
	return &Property{Key: strings.ToUpper(key), Value: value}
}

// AddParam merges values into the named parameter. Parameter names are
// case-insensitive and stored uppercased; values are lowercased and
// duplicates collapsed so repeated declarations union rather than
// overwrite.
func (p *Property) AddParam(name string, values ...string) {
	name = strings.ToUpper(name)
	if p.Params == nil {
		p.Params = make(map[string][]string)
	}
	for _, v := range values {
		v = strings.ToLower(v)
		if containsString(p.Params[name], v) {
			continue
		}
		p.Params[name] = append(p.Params[name], v)
	}
}

// Param returns the values of the named parameter, or nil.
func (p *Property) Param(name string) []string {
	return p.Params[strings.ToUpper(name)]
}

// HasParamValue reports whether the named parameter contains the value,
// compared case-insensitively.
func (p *Property) HasParamValue(name, value string) bool {
	return containsString(p.Param(name), strings.ToLower(value))
}

// RemoveParamValue deletes one value from a parameter. Removing the last
// value removes the parameter key entirely so a property never carries an
// empty value list.
func (p *Property) RemoveParamValue(name, value string) {
	name = strings.ToUpper(name)
	value = strings.ToLower(value)
	vals := p.Params[name]
	for i, v := range vals {
		if v == value {
			vals = append(vals[:i], vals[i+1:]...)
			break
		}
	}
	if len(vals) == 0 {
		delete(p.Params, name)
		return
	}
	p.Params[name] = vals
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Card is one parsed BEGIN/END block: properties keyed by field name,
// with first-seen field order preserved for stable serialization.
type Card struct {
	order  []string
	fields map[string][]*Property
}

// NewCard creates an empty card.
func NewCard() *Card {
	return &Card{fields: make(map[string][]*Property)}
}

// Add appends a property under its field key.
func (c *Card) Add(p *Property) {
	key := strings.ToUpper(p.Key)
	p.Key = key
	if _, seen := c.fields[key]; !seen {
		c.order = append(c.order, key)
	}
	c.fields[key] = append(c.fields[key], p)
}

// Set replaces all occurrences of a field with a single property.
func (c *Card) Set(p *Property) {
	key := strings.ToUpper(p.Key)
	p.Key = key
	if _, seen := c.fields[key]; !seen {
		c.order = append(c.order, key)
	}
	c.fields[key] = []*Property{p}
}

// SetValue replaces a field with a single bare-valued property.
func (c *Card) SetValue(key, value string) {
	c.Set(NewProperty(key, value))
}

// Properties returns all occurrences of a field, in insertion order.
func (c *Card) Properties(key string) []*Property {
	return c.fields[strings.ToUpper(key)]
}

// Get returns the first occurrence of a field. For singular fields this
// is the field's one property; for multi fields first wins. A missing
// field is a lookup failure, not a default.
func (c *Card) Get(key string) (*Property, error) {
	props := c.fields[strings.ToUpper(key)]
	if len(props) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, strings.ToUpper(key))
	}
	return props[0], nil
}

// Value returns the raw value of the first occurrence of a field.
func (c *Card) Value(key string) (string, error) {
	prop, err := c.Get(key)
	if err != nil {
		return "", err
	}
	return prop.Value, nil
}

// Keys returns the field names in first-seen order.
func (c *Card) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// Len returns the total number of properties on the card.
func (c *Card) Len() int {
	n := 0
	for _, props := range c.fields {
		n += len(props)
	}
	return n
}
