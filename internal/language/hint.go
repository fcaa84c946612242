package language

import "strings"

// Hint carries caller-side knowledge used to seed a session's language.
type Hint struct {
	CountryCode       string `json:"countryCode,omitempty"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
	PreferredLanguage Code   `json:"preferredLanguage,omitempty"`
}

var countryLanguages = map[string]Code{
	"US": "en", "GB": "en", "UK": "en", "IE": "en", "AU": "en", "CA": "en", "NZ": "en",
	"ES": "es", "MX": "es", "AR": "es", "CO": "es", "CL": "es", "PE": "es",
	"CZ": "cs",
	"SK": "sk",
	"DE": "de", "AT": "de", "CH": "de",
	"FR": "fr", "BE": "fr",
	"IT": "it",
	"PL": "pl",
	"PT": "pt", "BR": "pt",
	"NL": "nl",
	"UA": "uk",
	"RU": "ru",
}

// Dialing prefixes without the leading "+". Longer prefixes are matched first.
var dialingPrefixes = []struct {
	prefix  string
	country string
}{
	{"420", "CZ"},
	{"421", "SK"},
	{"351", "PT"},
	{"353", "IE"},
	{"380", "UA"},
	{"34", "ES"},
	{"33", "FR"},
	{"39", "IT"},
	{"41", "CH"},
	{"43", "AT"},
	{"44", "GB"},
	{"48", "PL"},
	{"49", "DE"},
	{"52", "MX"},
	{"54", "AR"},
	{"55", "BR"},
	{"31", "NL"},
	{"32", "BE"},
	{"1", "US"},
	{"7", "RU"},
}

// FromCountry maps an ISO 3166-1 alpha-2 country code to its primary language.
func FromCountry(countryCode string) (Code, bool) {
	c, ok := countryLanguages[strings.ToUpper(strings.TrimSpace(countryCode))]
	return c, ok
}

// FromPhone maps an E.164 phone number to a language via its dialing prefix.
func FromPhone(number string) (Code, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	trimmed := strings.TrimSpace(number)
	if strings.HasPrefix(trimmed, "00") {
		digits = strings.TrimPrefix(digits, "00")
	} else if !strings.HasPrefix(trimmed, "+") {
		return "", false
	}
	for _, p := range dialingPrefixes {
		if strings.HasPrefix(digits, p.prefix) {
			return FromCountry(p.country)
		}
	}
	return "", false
}

// Resolve picks the hinted language: preferred language, then country code,
// then phone prefix. ok is false when the hint carries nothing usable.
func (h Hint) Resolve() (Code, bool) {
	if c := Normalize(string(h.PreferredLanguage)); c != "" {
		return c, true
	}
	if c, ok := FromCountry(h.CountryCode); ok {
		return c, true
	}
	if strings.TrimSpace(h.CountryCode) != "" {
		// Unknown country: surface it so the caller can report a fallback.
		return Code(strings.ToLower(strings.TrimSpace(h.CountryCode))), true
	}
	return FromPhone(h.PhoneNumber)
}

// IsZero reports whether the hint is empty.
func (h Hint) IsZero() bool {
	return strings.TrimSpace(h.CountryCode) == "" &&
		strings.TrimSpace(h.PhoneNumber) == "" &&
		strings.TrimSpace(string(h.PreferredLanguage)) == ""
}
