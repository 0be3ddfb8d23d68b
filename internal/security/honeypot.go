package security

import (
	"net/url"
	"strings"
)

// decoyFields are form inputs hidden from human users. Any non-blank value in
// one of them is conclusive evidence of an automated submitter.
var decoyFields = []string{"website", "url", "company_website", "fax_number"}

// TriggersHoneypot reports whether the parsed form body filled a decoy field.
// It must be called after multipart parsing has populated the body.
func TriggersHoneypot(form url.Values) bool {
	for _, name := range decoyFields {
		for _, v := range form[name] {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}
