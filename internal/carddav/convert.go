package carddav

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "contact-sync/internal/common/errors"
	"contact-sync/internal/common/logging"
	"contact-sync/internal/contentstore"
	"contact-sync/internal/models"
	"contact-sync/internal/vcard"
)

const (
	// memberPrefix shapes MEMBER values on the wire.
	memberPrefix = "urn:uuid:"
	// linkedInTag is the TYPE parameter value marking a profile link as
	// the known external professional network.
	linkedInTag = "linkedin"
	// defaultBirthYearEpoch: birthdays before this year render with the
	// unknown-year sentinel.
	defaultBirthYearEpoch = 1900
)

var birthdayLayouts = []string{"20060102", "2006-01-02"}

// Converter translates between wire cards and domain models.
type Converter struct {
	// BirthYearEpoch is the cut-off below which a birth year is treated
	// as unknown on serialization.
	BirthYearEpoch int
	// FetchPhoto downloads a remote photo payload for placeholder
	// derivation. Nil disables remote fetches.
	FetchPhoto func(ctx context.Context, url string) ([]byte, error)

	logger logging.Logger
}

// NewConverter creates a converter with default settings.
func NewConverter(logger logging.Logger) *Converter {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Converter{BirthYearEpoch: defaultBirthYearEpoch, logger: logger}
}

// ToPerson projects a card classified as an individual into a Person.
// The UID is mandatory; everything else degrades gracefully.
func (c *Converter) ToPerson(ctx context.Context, card *vcard.Card) (models.Person, error) {
	rawUID, err := card.Value(vcard.FieldUID)
	if err != nil {
		return models.Person{}, apperrors.ParseError("card has no UID")
	}
	uid, upper := models.NormalizeUID(rawUID)

	person := models.Person{
		UID:       uid,
		UIDUpper:  upper,
		Addresses: card.Properties(vcard.FieldAddress),
		Emails:    card.Properties(vcard.FieldEmail),
		Phones:    card.Properties(vcard.FieldTelephone),
	}

	if fn, err := card.Value(vcard.FieldFormattedName); err == nil {
		person.FullName = fn
	}
	if org, err := card.Value(vcard.FieldOrganization); err == nil {
		// ORG may carry org;unit components; the organization name is
		// the first one.
		person.Organization = strings.SplitN(org, ";", 2)[0]
	}
	if title, err := card.Value(vcard.FieldTitle); err == nil {
		person.Title = title
	}
	if role, err := card.Value(vcard.FieldRole); err == nil {
		person.Role = role
	}

	if rev, err := card.Value(vcard.FieldRevision); err == nil {
		person.UpdatedAt = vcard.ParseRevision(rev)
	} else {
		person.UpdatedAt = time.Now().UTC()
	}

	if bday, err := card.Value(vcard.FieldBirthday); err == nil {
		person.Birthday = parseBirthday(bday)
	}

	person.LinkedInRef = extractLinkedInRef(card)

	for _, prop := range card.Properties(vcard.FieldPhoto) {
		photo, ok := c.toPhoto(ctx, prop)
		if ok {
			person.Photos = append(person.Photos, photo)
		}
	}

	return person, nil
}

// toPhoto decodes a single embedded-media property. Embedded-vs-remote
// is decided by whether the value is URL-shaped.
func (c *Converter) toPhoto(ctx context.Context, prop *vcard.Property) (models.Photo, bool) {
	value := strings.TrimSpace(prop.Value)
	if value == "" {
		return models.Photo{}, false
	}

	mediaType := firstParam(prop, vcard.ParamMediaType)
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	if isURLShaped(value) {
		photo := models.Photo{URL: value, MediaType: mediaType}
		if c.FetchPhoto != nil {
			data, err := c.FetchPhoto(ctx, value)
			if err != nil {
				c.logger.Warn("failed to fetch remote photo",
					logging.String("url", value), logging.Err(err))
			} else {
				photo.Placeholder = contentstore.Thumbnail(data)
			}
		}
		return photo, true
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(value)
	}
	if err != nil {
		c.logger.Warn("failed to decode embedded photo", logging.Err(err))
		return models.Photo{}, false
	}
	return models.Photo{
		Data:        data,
		MediaType:   mediaType,
		Placeholder: contentstore.Thumbnail(data),
	}, true
}

// FromPerson serializes a Person back into a wire card.
func (c *Converter) FromPerson(person models.Person) *vcard.Card {
	card := vcard.NewCard()
	card.SetValue(vcard.FieldUID, person.WireUID())

	if person.FullName != "" {
		card.SetValue(vcard.FieldFormattedName, person.FullName)
		family, given := splitName(person.FullName)
		card.SetValue(vcard.FieldName, fmt.Sprintf("%s;%s;;;", family, given))
	}
	if person.Organization != "" {
		card.SetValue(vcard.FieldOrganization, person.Organization)
	}
	if person.Title != "" {
		card.SetValue(vcard.FieldTitle, person.Title)
	}
	if person.Role != "" {
		card.SetValue(vcard.FieldRole, person.Role)
	}

	for _, prop := range person.Addresses {
		card.Add(prop)
	}
	for _, prop := range person.Emails {
		card.Add(prop)
	}
	for _, prop := range person.Phones {
		card.Add(prop)
	}

	for _, photo := range person.Photos {
		card.Add(c.fromPhoto(photo))
	}

	if !person.Birthday.IsZero() {
		card.SetValue(vcard.FieldBirthday, c.formatBirthday(person.Birthday))
	}
	if person.LinkedInRef != "" {
		link := vcard.NewProperty(vcard.FieldSocialProfile, "https://www.linkedin.com/"+person.LinkedInRef)
		link.AddParam(vcard.ParamType, linkedInTag)
		card.Add(link)
	}

	updated := person.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	card.SetValue(vcard.FieldRevision, vcard.FormatRevision(updated))

	return card
}

func (c *Converter) fromPhoto(photo models.Photo) *vcard.Property {
	if photo.Embedded() {
		prop := vcard.NewProperty(vcard.FieldPhoto, base64.StdEncoding.EncodeToString(photo.Data))
		prop.AddParam(vcard.ParamEncoding, "b")
		if photo.MediaType != "" {
			prop.AddParam(vcard.ParamMediaType, photo.MediaType)
		}
		return prop
	}
	prop := vcard.NewProperty(vcard.FieldPhoto, photo.URL)
	if photo.MediaType != "" {
		prop.AddParam(vcard.ParamMediaType, photo.MediaType)
	}
	return prop
}

// formatBirthday renders a birth date, substituting the two-character
// sentinel for years the server treats as unknown.
func (c *Converter) formatBirthday(t time.Time) string {
	epoch := c.BirthYearEpoch
	if epoch == 0 {
		epoch = defaultBirthYearEpoch
	}
	if t.Year() < epoch {
		return t.Format("--0102")
	}
	return t.Format("20060102")
}

// ToGroup projects a card classified as a contact group into a Group.
func (c *Converter) ToGroup(card *vcard.Card) (models.Group, error) {
	rawUID, err := card.Value(vcard.FieldUID)
	if err != nil {
		return models.Group{}, apperrors.ParseError("group card has no UID")
	}
	uid, _ := models.NormalizeUID(rawUID)

	group := models.Group{
		UID:      uid,
		ReadOnly: models.ProtectedGroupUID(uid),
	}
	if name, err := card.Value(vcard.FieldFormattedName); err == nil {
		group.Name = name
	}
	if desc, err := card.Value("NOTE"); err == nil {
		group.Description = desc
	}

	seen := make(map[string]bool)
	for _, field := range []string{vcard.FieldMember, vcard.FieldLegacyMember} {
		for _, prop := range card.Properties(field) {
			member := stripMemberPrefix(prop.Value)
			if member == "" || seen[strings.ToLower(member)] {
				continue
			}
			seen[strings.ToLower(member)] = true
			group.MemberUIDs = append(group.MemberUIDs, member)
		}
	}
	return group, nil
}

func stripMemberPrefix(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len(memberPrefix) && strings.EqualFold(value[:len(memberPrefix)], memberPrefix) {
		return value[len(memberPrefix):]
	}
	return value
}

// extractLinkedInRef scans the known profile-link fields for a link
// tagged with the external network and returns the last two path
// segments of its URL.
func extractLinkedInRef(card *vcard.Card) string {
	for _, field := range []string{vcard.FieldSocialProfile, vcard.FieldURL} {
		for _, prop := range card.Properties(field) {
			if !prop.HasParamValue(vcard.ParamType, linkedInTag) {
				continue
			}
			if ref := lastTwoPathSegments(prop.Value); ref != "" {
				return ref
			}
		}
	}
	return ""
}

func lastTwoPathSegments(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	var segments []string
	for _, seg := range strings.Split(parsed.Path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return ""
	}
	if len(segments) == 1 {
		return segments[0]
	}
	return segments[len(segments)-2] + "/" + segments[len(segments)-1]
}

// splitName divides a display name on its last whitespace run into
// family and given components.
func splitName(full string) (family, given string) {
	full = strings.TrimSpace(full)
	idx := strings.LastIndexFunc(full, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
	if idx < 0 {
		return full, ""
	}
	return full[idx+1:], strings.TrimRight(full[:idx], " \t")
}

func parseBirthday(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, sentinel := range []string{"--01-02", "--0102"} {
		if t, err := time.Parse(sentinel, value); err == nil {
			return time.Date(models.UnknownBirthYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	for _, layout := range birthdayLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstParam(prop *vcard.Property, name string) string {
	values := prop.Param(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func isURLShaped(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
