package messaging

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers stored without a country code.
const DefaultRegion = "BR"

var phoneDigitsRe = regexp.MustCompile(`\d+`)

// NormalizeE164 formats a phone number as E.164. Numbers libphonenumber
// cannot validate keep their digits behind a leading +.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if number, err := phonenumbers.Parse(value, DefaultRegion); err == nil && phonenumbers.IsValidNumber(number) {
		return phonenumbers.Format(number, phonenumbers.E164)
	}
	digits := strings.Join(phoneDigitsRe.FindAllString(value, -1), "")
	if digits == "" {
		return ""
	}
	return "+" + digits
}
