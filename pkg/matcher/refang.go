package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// defangs maps common defanging tokens to their clean form. Longer tokens
// come first so "[://]" wins over "[:]". Tokens match case-insensitively.
var defangs = []struct{ from, to string }{
	{"[://]", "://"},
	{"[dot]", "."},
	{"(dot)", "."},
	{"{dot}", "."},
	{"hxxp", "http"},
	{"[at]", "@"},
	{"(at)", "@"},
	{"[.]", "."},
	{"(.)", "."},
	{"{.}", "."},
	{"[:]", ":"},
	{"[/]", "/"},
	{"[@]", "@"},
	{"fxp", "ftp"},
}

// Refanged is a text with defanging tokens reversed, plus the byte mapping
// back to the text it was derived from.
type Refanged struct {
	Text string
	// start[i] and end[i] bound the source bytes that produced Text[i].
	start []int
	end   []int
}

// Changed reports whether any substitution was applied.
func (r *Refanged) Changed() bool { return r.start != nil }

// Source maps the half-open range [s,e) of r.Text back to the source text.
func (r *Refanged) Source(s, e int) (int, int) {
	if !r.Changed() {
		return s, e
	}
	if e <= s {
		return r.start[s], r.start[s]
	}
	return r.start[s], r.end[e-1]
}

// Refang reverses defanging in text.
func Refang(text string) *Refanged {
	if !hasDefang(text) {
		return &Refanged{Text: text}
	}
	var b strings.Builder
	b.Grow(len(text))
	start := make([]int, 0, len(text))
	end := make([]int, 0, len(text))

	for i := 0; i < len(text); {
		matched := false
		for _, d := range defangs {
			if hasPrefixFold(text[i:], d.from) {
				b.WriteString(d.to)
				for k := 0; k < len(d.to); k++ {
					start = append(start, i)
					end = append(end, i+len(d.from))
				}
				i += len(d.from)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		b.WriteByte(text[i])
		start = append(start, i)
		end = append(end, i+1)
		i++
	}
	return &Refanged{Text: b.String(), start: start, end: end}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func hasDefang(text string) bool {
	lower := strings.ToLower(text)
	for _, d := range defangs {
		if strings.Contains(lower, d.from) {
			return true
		}
	}
	return false
}

// lowerSameLen lower-cases s rune by rune, keeping any rune whose lower form
// has a different UTF-8 length so byte offsets stay aligned with s.
func lowerSameLen(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		lr := unicode.ToLower(r)
		if utf8.RuneLen(lr) == size {
			b.WriteRune(lr)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
