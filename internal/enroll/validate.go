package enroll

import (
	"regexp"
	"strings"

	"github.com/promptathon/gateway/internal/domain"
)

// Corporate address shape: firstname.lastname@ubs.com, where each
// local-part token is a letter followed by letters, hyphens or
// apostrophes.
var emailPattern = regexp.MustCompile(`^(?i)[a-z][a-z'-]+\.[a-z][a-z'-]+@ubs\.com$`)

// Input carries the raw enrollment form values.
type Input struct {
	Name     string
	Email    string
	Category string
}

// Fields reports per-field validation failures so the UI can show every
// problem in one pass instead of stopping at the first.
type Fields struct {
	NameMissing     bool
	EmailInvalid    bool
	CategoryMissing bool
}

func (f Fields) OK() bool {
	return !f.NameMissing && !f.EmailInvalid && !f.CategoryMissing
}

// Validate checks the three enrollment fields independently against the
// currently offered categories. When the email is valid and the name is
// empty, a display name is derived from the address; a typed name is
// never overwritten.
func Validate(in Input, categories []string) (domain.Enrollment, Fields) {
	var f Fields

	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	category := strings.TrimSpace(in.Category)

	f.EmailInvalid = !emailPattern.MatchString(email)

	if name == "" && !f.EmailInvalid {
		name = DeriveName(email)
	}
	f.NameMissing = name == ""

	f.CategoryMissing = true
	for _, c := range categories {
		if c == category {
			f.CategoryMissing = false
			break
		}
	}

	if !f.OK() {
		return domain.Enrollment{}, f
	}

	return domain.Enrollment{
		Name:     name,
		Email:    email,
		Category: category,
	}, f
}

// DeriveName turns a corporate address into a display name: the local
// part is split on its first dot, each token is title-cased, and the
// tokens are joined with a single space.
func DeriveName(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}

	first, last, ok := strings.Cut(local, ".")
	if !ok {
		return titleCase(local)
	}

	return titleCase(first) + " " + titleCase(last)
}

// titleCase upper-cases the first letter and any letter following a
// hyphen, apostrophe or whitespace, and lower-cases everything else.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	upperNext := true
	for _, r := range s {
		switch {
		case r == '-' || r == '\'' || r == ' ' || r == '\t':
			upperNext = true
			b.WriteRune(r)
		case upperNext:
			b.WriteString(strings.ToUpper(string(r)))
			upperNext = false
		default:
			b.WriteString(strings.ToLower(string(r)))
		}
	}

	return b.String()
}
