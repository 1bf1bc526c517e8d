package filter

import "strings"

// SubjectFilter matches mail subjects against a configured keyword list.
// IMAP SEARCH cannot reliably filter on non-ASCII subject text, so the
// match happens locally after header decoding.
type SubjectFilter struct {
	keywords []string
}

// NewSubject builds a filter from the keyword list. Keywords are matched
// as case-insensitive substrings; empty keywords are ignored.
func NewSubject(keywords []string) *SubjectFilter {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &SubjectFilter{keywords: lowered}
}

// Allows reports whether the subject contains at least one keyword.
// A filter with no keywords allows everything.
func (f *SubjectFilter) Allows(subject string) bool {
	if len(f.keywords) == 0 {
		return true
	}
	subject = strings.ToLower(subject)
	for _, kw := range f.keywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}
