// Package middleware – log scrubbing.
//
// The admin surface sits next to credential material and practice data, so
// nothing secret or patient-identifying may reach the access log verbatim.
// ScrubQuery and ScrubHeaders are applied by Logger() before any request
// metadata is emitted:
//
//   - secret-bearing query parameters (key, apiKey, token, secret) are
//     replaced by their length class, never their value
//   - emails and phone numbers are redacted from query strings and headers
//   - sensitive headers (Authorization, Cookie, Set-Cookie, X-Api-Key) are
//     fully masked
//
// Scrubbing reduces but does not eliminate leak risk; clients should still
// avoid putting identifiers in query strings where possible.
package middleware

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/kamdental/dental-sync/internal/sysutil"
)

var (
	// UUIDs go first so the phone pattern cannot match their digit runs.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	// Query parameters whose values are secrets. Compared case-insensitively.
	secretParams = map[string]struct{}{
		"key":    {},
		"apikey": {},
		"token":  {},
		"secret": {},
	}

	// Headers that are always fully masked. Compared case-insensitively.
	maskedHeaders = map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
		"x-api-key":     {},
	}
)

// redactText scrubs free-form text: identifiers, then emails, then phone
// numbers (the loosest pattern last).
func redactText(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[redacted:id]")
	s = emailRE.ReplaceAllString(s, "[redacted:email]")
	s = phoneRE.ReplaceAllString(s, "[redacted:phone]")
	return s
}

// ScrubQuery returns a loggable form of a raw query string. Values of
// secret-bearing parameters are replaced with their length class (so an
// operator can still tell "empty" from "present"); everything else is run
// through the PII redactor. A query that fails to parse is redacted as a
// whole rather than dropped.
func ScrubQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return redactText(rawQuery)
	}
	out := make(url.Values, len(vals))
	for k, vv := range vals {
		if _, secret := secretParams[strings.ToLower(k)]; secret {
			for _, v := range vv {
				out.Add(k, "[len:"+sysutil.LengthClass(v)+"]")
			}
			continue
		}
		for _, v := range vv {
			out.Add(k, redactText(v))
		}
	}
	return out.Encode()
}

// ScrubHeaders returns a flattened, scrubbed copy of request headers.
// Built-in sensitive headers plus any names in extra are fully masked;
// remaining values go through the PII redactor.
func ScrubHeaders(h map[string][]string, extra []string) map[string]string {
	masked := maskedHeaders
	if len(extra) > 0 {
		masked = make(map[string]struct{}, len(maskedHeaders)+len(extra))
		for k := range maskedHeaders {
			masked[k] = struct{}{}
		}
		for _, k := range extra {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				masked[k] = struct{}{}
			}
		}
	}

	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			out[k] = "[masked]"
			continue
		}
		out[k] = redactText(strings.Join(vv, ", "))
	}
	return out
}
