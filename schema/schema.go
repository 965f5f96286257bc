// Package schema holds the ordered feature lists consumed by the two phishing models.
package schema

import (
	"phishguard/apperr"
)

type Mode string

const (
	WebOut Mode = "webOut"
	WebIn  Mode = "webIn"
)

// Field order is the column order the models were trained with.
var webOutFields = []string{
	"having_IP_Address",
	"URL_Length",
	"Shortining_Service",
	"having_At_Symbol",
	"double_slash_redirecting",
	"Prefix_Suffix",
	"having_Sub_Domain",
	"SSLfinal_State",
	"Domain_registeration_length",
	"Favicon",
	"port",
	"HTTPS_token",
	"age_of_domain",
	"DNSRecord",
}

var pageContentFields = []string{
	"Request_URL",
	"URL_of_Anchor",
	"Links_in_tags",
	"SFH",
	"Submitting_to_email",
	"Abnormal_URL",
	"Redirect",
	"on_mouseover",
	"RightClick",
	"popUpWidnow",
	"Iframe",
}

var webInFields = append(append(make([]string, 0, len(webOutFields)+len(pageContentFields)), webOutFields...), pageContentFields...)

// Modes lists the supported modes in their canonical order.
func Modes() []Mode {
	return []Mode{WebOut, WebIn}
}

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case WebOut, WebIn:
		return Mode(s), nil
	default:
		return "", apperr.InvalidMode(s)
	}
}

// FieldsFor returns a copy of the ordered field list for mode, or nil for an unknown mode.
func FieldsFor(mode Mode) []string {
	fields := fieldsFor(mode)
	if fields == nil {
		return nil
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// Width is the feature count the mode's model expects.
func Width(mode Mode) int {
	return len(fieldsFor(mode))
}

func fieldsFor(mode Mode) []string {
	switch mode {
	case WebOut:
		return webOutFields
	case WebIn:
		return webInFields
	default:
		return nil
	}
}
