// Package template implements the minimal "{{ key }}" tag scanner described
// in spec.md §4.C, grounded on original_source/src/template.rs. This is
// deliberately not a general template engine (spec.md §1 Non-goals): there
// are no conditionals, loops, or functions, only literal tag substitution.
package template

import "strings"

// Tag is one "{{ ... }}" occurrence: Start/End are byte offsets of the full
// tag (including braces) in the source, and Key is the trimmed inner text.
type Tag struct {
	Start, End int
	Key        string
}

// Scan returns every "{{ ... }}" tag in s, in order. An unclosed "{{"
// terminates scanning; everything from that point on (including the
// unclosed brace) is left out of the tag list but is still part of the
// source the caller must preserve.
func Scan(s string) []Tag {
	var tags []Tag
	i := 0
	for {
		open := strings.Index(s[i:], "{{")
		if open < 0 {
			break
		}
		open += i
		close := strings.Index(s[open+2:], "}}")
		if close < 0 {
			break // unclosed tag: stop scanning, trailing text preserved verbatim
		}
		close += open + 2
		tags = append(tags, Tag{
			Start: open,
			End:   close + 2,
			Key:   strings.TrimSpace(s[open+2 : close]),
		})
		i = close + 2
	}
	return tags
}

// Keys returns the set of trimmed, non-empty inner strings across every tag
// in s.
func Keys(s string) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, t := range Scan(s) {
		if t.Key != "" {
			keys[t.Key] = struct{}{}
		}
	}
	return keys
}

// Render replaces every tag whose trimmed key is present in values with its
// value, leaving unresolved tags verbatim. Bytes before the first resolvable
// tag are preserved without allocation: if no tag is resolvable, s itself is
// returned (P1/P2 in spec.md §8).
func Render(s string, values map[string]string) string {
	tags := Scan(s)
	firstResolvable := -1
	for idx, t := range tags {
		if _, ok := values[t.Key]; ok {
			firstResolvable = idx
			break
		}
	}
	if firstResolvable < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	cursor := 0
	for idx := firstResolvable; idx < len(tags); idx++ {
		t := tags[idx]
		b.WriteString(s[cursor:t.Start])
		if v, ok := values[t.Key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[t.Start:t.End])
		}
		cursor = t.End
	}
	b.WriteString(s[cursor:])
	return b.String()
}
