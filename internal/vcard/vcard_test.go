package vcard_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-sync/internal/vcard"
)

func sampleCard() *vcard.Card {
	card := vcard.NewCard()
	card.SetValue(vcard.FieldUID, "a1b2c3d4")
	card.SetValue(vcard.FieldFormattedName, "Ada Lovelace")

	email := vcard.NewProperty(vcard.FieldEmail, "ada@example.com")
	email.AddParam(vcard.ParamType, "WORK", "internet")
	card.Add(email)

	tel := vcard.NewProperty(vcard.FieldTelephone, "+15551234567")
	tel.AddParam(vcard.ParamType, "cell")
	card.Add(tel)

	card.SetValue(vcard.FieldOrganization, "Analytical Engines Ltd")
	return card
}

func TestRoundTrip(t *testing.T) {
	original := sampleCard()
	text := vcard.Serialize(original)

	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	parsed := cards[0]

	assert.Equal(t, original.Keys(), parsed.Keys())
	for _, key := range original.Keys() {
		want := original.Properties(key)
		got := parsed.Properties(key)
		require.Len(t, got, len(want), "field %s", key)
		for i := range want {
			assert.Equal(t, want[i].Value, got[i].Value)
			assert.Equal(t, want[i].Params, got[i].Params)
		}
	}
}

func TestRoundTripIsByteStable(t *testing.T) {
	text := vcard.Serialize(sampleCard())
	again := vcard.Serialize(vcard.Parse(text)[0])
	assert.Equal(t, text, again)
}

func TestFolding(t *testing.T) {
	long := strings.Repeat("x", 200)
	card := vcard.NewCard()
	card.SetValue("NOTE", long)

	text := vcard.Serialize(card)
	lines := strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\n")

	// BEGIN + folded NOTE + END.
	logicalLen := len("NOTE:") + 200
	wantPhysical := 1 + (logicalLen-75+74-1)/74
	require.Len(t, lines, 2+wantPhysical)

	for i, line := range lines[1 : 1+wantPhysical] {
		assert.LessOrEqual(t, len(line), 75)
		if i > 0 {
			assert.True(t, strings.HasPrefix(line, " "), "continuation line must be space-prefixed")
		}
	}

	parsed := vcard.Parse(text)
	require.Len(t, parsed, 1)
	value, err := parsed[0].Value("NOTE")
	require.NoError(t, err)
	assert.Equal(t, long, value)
}

func TestGroupLabelMerge(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCARD",
		"UID:u-1",
		"item1.TEL;TYPE=CELL:+15551234567",
		"item1.X-ABLabel:Mobile",
		"END:VCARD",
	}, "\r\n") + "\r\n"

	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	card := cards[0]

	tels := card.Properties(vcard.FieldTelephone)
	require.Len(t, tels, 1)
	assert.Equal(t, "+15551234567", tels[0].Value)
	assert.True(t, tels[0].HasParamValue(vcard.ParamType, "cell"))
	assert.True(t, tels[0].HasParamValue(vcard.ParamType, "mobile"))

	// The label line must not surface as a standalone property.
	assert.Empty(t, card.Properties(vcard.FieldLabel))
}

func TestLabelOnlyGroupIsDiscarded(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCARD",
		"UID:u-2",
		"item3.X-ABLabel:Orphan",
		"END:VCARD",
	}, "\r\n")

	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	assert.Empty(t, cards[0].Properties(vcard.FieldLabel))
	assert.Equal(t, []string{vcard.FieldUID}, cards[0].Keys())
}

func TestFoldingKeepsRuneBoundaries(t *testing.T) {
	// Each rune is 3 bytes, so a byte-indexed cut at 75 would land
	// mid-rune.
	long := strings.Repeat("世", 60)
	card := vcard.NewCard()
	card.SetValue("NOTE", long)

	text := vcard.Serialize(card)
	for _, line := range strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\n") {
		assert.LessOrEqual(t, len(line), 75)
		assert.True(t, utf8.ValidString(line), "folded line must not split a rune: %q", line)
	}

	parsed := vcard.Parse(text)
	require.Len(t, parsed, 1)
	value, err := parsed[0].Value("NOTE")
	require.NoError(t, err)
	assert.Equal(t, long, value)
}

func TestTruncatedBlockIsDropped(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCARD",
		"UID:u-complete",
		"FN:Complete",
		"END:VCARD",
		"BEGIN:VCARD",
		"UID:u-truncated",
		"FN:Truncated",
	}, "\r\n") + "\r\n"

	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	uid, err := cards[0].Value(vcard.FieldUID)
	require.NoError(t, err)
	assert.Equal(t, "u-complete", uid)

	assert.Empty(t, vcard.Parse("BEGIN:VCARD\r\nUID:u-1\r\nFN:Lone\r\n"))
}

func TestParseWithoutMarkersYieldsNothing(t *testing.T) {
	assert.Empty(t, vcard.Parse("FN:No Markers Here\r\nEMAIL:x@y.z\r\n"))
	assert.Empty(t, vcard.Parse(""))
}

func TestParamUnionMerge(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCARD",
		"TEL;TYPE=HOME;TYPE=voice,HOME:+1555",
		"END:VCARD",
	}, "\r\n")

	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	tel := cards[0].Properties(vcard.FieldTelephone)[0]
	assert.Equal(t, []string{"home", "voice"}, tel.Param(vcard.ParamType))
}

func TestValueKeepsColons(t *testing.T) {
	text := "BEGIN:VCARD\r\nURL:https://example.com/a:b\r\nEND:VCARD\r\n"
	cards := vcard.Parse(text)
	require.Len(t, cards, 1)
	value, err := cards[0].Value(vcard.FieldURL)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a:b", value)
}

func TestMissingSingularFieldIsLookupFailure(t *testing.T) {
	card := vcard.NewCard()
	card.SetValue(vcard.FieldFormattedName, "")

	// Present but empty is valid.
	value, err := card.Value(vcard.FieldFormattedName)
	require.NoError(t, err)
	assert.Equal(t, "", value)

	_, err = card.Value(vcard.FieldUID)
	assert.ErrorIs(t, err, vcard.ErrFieldNotFound)
}

func TestRemoveLastParamValueDeletesParam(t *testing.T) {
	prop := vcard.NewProperty(vcard.FieldTelephone, "+1555")
	prop.AddParam(vcard.ParamType, "cell")
	prop.RemoveParamValue(vcard.ParamType, "CELL")
	assert.Nil(t, prop.Param(vcard.ParamType))
}

func TestClassify(t *testing.T) {
	group := vcard.NewCard()
	group.SetValue(vcard.FieldKind, "group")
	kind, err := vcard.Classify(group)
	require.NoError(t, err)
	assert.Equal(t, vcard.KindContactGroup, kind)

	legacy := vcard.NewCard()
	legacy.SetValue(vcard.FieldLegacyKind, "GROUP")
	kind, err = vcard.Classify(legacy)
	require.NoError(t, err)
	assert.Equal(t, vcard.KindContactGroup, kind)

	person := vcard.NewCard()
	person.SetValue(vcard.FieldFormattedName, "Ada")
	kind, err = vcard.Classify(person)
	require.NoError(t, err)
	assert.Equal(t, vcard.KindPerson, kind)

	individual := vcard.NewCard()
	individual.SetValue(vcard.FieldKind, "individual")
	kind, err = vcard.Classify(individual)
	require.NoError(t, err)
	assert.Equal(t, vcard.KindPerson, kind)

	_, err = vcard.Classify(vcard.NewCard())
	assert.ErrorIs(t, err, vcard.ErrEmptyCard)
}

func TestRevisionRoundTrip(t *testing.T) {
	const rev = "20240301T101500Z"
	parsed := vcard.ParseRevision(rev)
	assert.Equal(t, rev, vcard.FormatRevision(parsed))

	want := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	assert.True(t, parsed.Equal(want))
}

func TestMalformedRevisionFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	for _, bad := range []string{"", "2024-03-01T10:15:00Z", "20240301", "not a date ever"} {
		got := vcard.ParseRevision(bad)
		assert.False(t, got.Before(before.Add(-time.Minute)), "input %q", bad)
	}
}

func TestMultipleCardsInOneStream(t *testing.T) {
	text := vcard.Serialize(sampleCard()) + vcard.Serialize(sampleCard())
	assert.Len(t, vcard.Parse(text), 2)
}
