// Package observables detects technical indicators (addresses, domains,
// URLs, e-mails, file hashes) and CVE identifiers in free text.
package observables

import (
	"net/netip"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sw33tLie/xtmscope/pkg/matcher"
	"github.com/weppos/publicsuffix-go/publicsuffix"
)

const (
	TypeIPv4   = "IPv4-Addr"
	TypeIPv6   = "IPv6-Addr"
	TypeDomain = "Domain-Name"
	TypeURL    = "Url"
	TypeEmail  = "Email-Addr"
	TypeFile   = "StixFile"
)

// Types lists every observable type in detection order.
var Types = []string{TypeURL, TypeEmail, TypeIPv6, TypeIPv4, TypeFile, TypeDomain}

// Observable is one indicator found in text. Value is the refanged form;
// offsets are bytes into the original text.
type Observable struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	HashType   string `json:"hashType,omitempty"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

type Options struct {
	// Disabled lists observable types to skip.
	Disabled []string
}

var (
	urlRe    = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<>"'` + "`" + `{}|\\^\[\]]*[^\s<>"'` + "`" + `{}|\\^\[\].,;:!?)]`)
	emailRe  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@(?:[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?\.)+[a-z]{2,63}\b`)
	ipv4Re   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Re   = regexp.MustCompile(`(?i)[0-9a-f]{0,4}(?::[0-9a-f]{0,4}){2,7}(?:(?:\d{1,3}\.){3}\d{1,3})?`)
	domainRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z][a-z0-9\-]{1,62}\b`)
	hashRe   = regexp.MustCompile(`(?i)\b[0-9a-f]{32,64}\b`)
)

var hashTypes = map[int]string{32: "MD5", 40: "SHA-1", 64: "SHA-256"}

// Detect returns the observables found in text. Defanged indicators are
// detected too and reported with their clean value.
func Detect(text string, opts Options) []Observable {
	if text == "" {
		return nil
	}
	disabled := make(map[string]struct{}, len(opts.Disabled))
	for _, t := range opts.Disabled {
		disabled[strings.ToLower(t)] = struct{}{}
	}

	rf := matcher.Refang(text)
	d := detector{text: rf.Text, rf: rf, seen: map[string]struct{}{}}

	for _, typ := range Types {
		if _, off := disabled[strings.ToLower(typ)]; off {
			continue
		}
		switch typ {
		case TypeURL:
			d.run(urlRe, typ, func(v string) (string, string, bool) {
				return v, "", true
			})
		case TypeEmail:
			d.run(emailRe, typ, func(v string) (string, string, bool) {
				at := strings.LastIndexByte(v, '@')
				return strings.ToLower(v), "", validDomain(v[at+1:])
			})
		case TypeIPv6:
			d.run(ipv6Re, typ, func(v string) (string, string, bool) {
				if groups(v) < 2 {
					return "", "", false
				}
				addr, err := netip.ParseAddr(v)
				if err != nil || !addr.Is6() || addr.Is4In6() {
					return "", "", false
				}
				return addr.String(), "", true
			})
		case TypeIPv4:
			d.run(ipv4Re, typ, func(v string) (string, string, bool) {
				addr, err := netip.ParseAddr(v)
				return v, "", err == nil && addr.Is4()
			})
		case TypeFile:
			d.run(hashRe, typ, func(v string) (string, string, bool) {
				ht, ok := hashTypes[len(v)]
				return strings.ToLower(v), ht, ok
			})
		case TypeDomain:
			d.run(domainRe, typ, func(v string) (string, string, bool) {
				v = strings.ToLower(v)
				return v, "", validDomain(v)
			})
		}
	}
	return d.out
}

type detector struct {
	text    string
	rf      *matcher.Refanged
	claimed matcher.RangeSet
	seen    map[string]struct{}
	out     []Observable
}

// run applies re to the refanged text. accept validates a candidate and
// returns its normalized value. Ranges already claimed by an earlier type
// are skipped, so a domain inside a URL is not reported twice.
func (d *detector) run(re *regexp.Regexp, typ string, accept func(string) (value, hashType string, ok bool)) {
	for _, loc := range re.FindAllStringIndex(d.text, -1) {
		s, e := loc[0], loc[1]
		raw := d.text[s:e]
		if !standalone(d.text, s, e) {
			continue
		}
		value, hashType, ok := accept(raw)
		if !ok {
			continue
		}
		if d.claimed.Overlaps(s, e) {
			continue
		}
		d.claimed.Claim(s, e)

		key := typ + "\x00" + strings.ToLower(value)
		if _, dup := d.seen[key]; dup {
			continue
		}
		d.seen[key] = struct{}{}

		from, to := d.rf.Source(s, e)
		d.out = append(d.out, Observable{
			Type:       typ,
			Value:      value,
			HashType:   hashType,
			StartIndex: from,
			EndIndex:   to,
		})
	}
}

// standalone reports whether [s,e) is not glued to a letter or digit.
func standalone(text string, s, e int) bool {
	if s > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:s])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if e < len(text) {
		r, _ := utf8.DecodeRuneInString(text[e:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// groups counts the non-empty colon separated groups of an IPv6 candidate.
func groups(v string) int {
	n := 0
	for _, g := range strings.Split(v, ":") {
		if g != "" {
			n++
		}
	}
	return n
}

// validDomain reports whether host ends in a known public suffix and has a
// registrable label in front of it.
func validDomain(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || !strings.Contains(host, ".") {
		return false
	}
	dn, err := publicsuffix.ParseFromListWithOptions(publicsuffix.DefaultList, host, &publicsuffix.FindOptions{IgnorePrivate: true})
	if err != nil {
		return false
	}
	return dn.SLD != ""
}
