package eval

import (
	"fmt"
	"strings"
)

type partKind int

const (
	partLiteral partKind = iota
	partProperty
	partItems
	partMetadata
)

// part is one piece of a segment: literal text or a reference.
type part struct {
	kind partKind
	// text is the literal text or the property name.
	text string
	// itemType is set for item references and qualified metadata references.
	itemType string
	// meta is the metadata name of a metadata reference.
	meta string
	// transform is the template of @(Type->'template').
	transform    *expression
	separator    string
	hasSeparator bool
}

// segment is one ';'-separated piece of an expression.
type segment []part

// itemRef returns the item reference when the segment consists of exactly one
// item reference without separator, ignoring surrounding whitespace.
func (s segment) itemRef() (part, bool) {
	var found *part
	for i := range s {
		p := &s[i]
		switch {
		case p.kind == partLiteral && strings.TrimSpace(p.text) == "":
			continue
		case p.kind == partItems && !p.hasSeparator && found == nil:
			found = p
		default:
			return part{}, false
		}
	}
	if found == nil {
		return part{}, false
	}
	return *found, true
}

// expression is a parsed expression string.
type expression struct {
	raw      string
	segments []segment
}

func parseExpression(raw string) (*expression, error) {
	expr := &expression{raw: raw}
	for _, text := range splitSegments(raw) {
		seg, err := parseSegment(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, raw, err)
		}
		expr.segments = append(expr.segments, seg)
	}
	return expr, nil
}

// splitSegments splits on ';' outside of reference parentheses and quotes.
func splitSegments(s string) []string {
	var (
		out     []string
		depth   int
		inQuote bool
		start   int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case depth > 0 && c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(' && (depth > 0 || (i > 0 && isRefSigil(s[i-1]))):
			depth++
		case c == ')' && depth > 0:
			depth--
		case c == ';' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func isRefSigil(c byte) bool {
	return c == '$' || c == '@' || c == '%'
}

func parseSegment(s string) (segment, error) {
	var (
		seg segment
		lit strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			seg = append(seg, part{kind: partLiteral, text: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(s); {
		if i+1 < len(s) && isRefSigil(s[i]) && s[i+1] == '(' {
			end, err := matchParen(s, i+1)
			if err != nil {
				return nil, err
			}
			body := s[i+2 : end]
			var p part
			switch s[i] {
			case '$':
				p, err = parseProperty(body)
			case '@':
				p, err = parseItems(body)
			case '%':
				p, err = parseMetadata(body)
			}
			if err != nil {
				return nil, err
			}
			flush()
			seg = append(seg, p)
			i = end + 1
			continue
		}
		lit.WriteByte(s[i])
		i++
	}
	flush()
	return seg, nil
}

// matchParen returns the index of the parenthesis closing the one at open.
func matchParen(s string, open int) (int, error) {
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated reference at offset %d", open-1)
}

func parseProperty(body string) (part, error) {
	name := strings.TrimSpace(body)
	if !isIdentifier(name) {
		return part{}, fmt.Errorf("invalid property name %q", name)
	}
	return part{kind: partProperty, text: name}, nil
}

func parseMetadata(body string) (part, error) {
	body = strings.TrimSpace(body)
	itemType, meta, qualified := strings.Cut(body, ".")
	if !qualified {
		itemType, meta = "", body
	}
	if !isIdentifier(meta) || (qualified && !isIdentifier(itemType)) {
		return part{}, fmt.Errorf("invalid metadata reference %q", body)
	}
	return part{kind: partMetadata, itemType: itemType, meta: meta}, nil
}

func parseItems(body string) (part, error) {
	rest := strings.TrimSpace(body)
	n := identifierLen(rest)
	if n == 0 {
		return part{}, fmt.Errorf("invalid item reference %q", body)
	}
	p := part{kind: partItems, itemType: rest[:n]}
	rest = strings.TrimSpace(rest[n:])

	if strings.HasPrefix(rest, "->") {
		tmpl, after, err := readQuoted(strings.TrimSpace(rest[2:]))
		if err != nil {
			return part{}, fmt.Errorf("item transform of %q: %w", p.itemType, err)
		}
		// Templates are single segments: a ';' inside the quotes is literal.
		seg, err := parseSegment(tmpl)
		if err != nil {
			return part{}, err
		}
		p.transform = &expression{raw: tmpl, segments: []segment{seg}}
		rest = strings.TrimSpace(after)
	}

	if strings.HasPrefix(rest, ",") {
		sep, after, err := readQuoted(strings.TrimSpace(rest[1:]))
		if err != nil {
			return part{}, fmt.Errorf("item separator of %q: %w", p.itemType, err)
		}
		p.separator = sep
		p.hasSeparator = true
		rest = strings.TrimSpace(after)
	}

	if rest != "" {
		return part{}, fmt.Errorf("unexpected %q in item reference %q", rest, body)
	}
	return p, nil
}

// readQuoted reads a single-quoted string at the start of s.
func readQuoted(s string) (string, string, error) {
	if !strings.HasPrefix(s, "'") {
		return "", "", fmt.Errorf("expected quoted string, got %q", s)
	}
	end := strings.IndexByte(s[1:], '\'')
	if end < 0 {
		return "", "", fmt.Errorf("unterminated quoted string %q", s)
	}
	return s[1 : end+1], s[end+2:], nil
}

// identifierLen returns the length of the identifier at the start of s.
// A '-' belongs to the identifier unless it starts a "->" transform.
func identifierLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' && i+1 < len(s) && s[i+1] == '>' {
			return i
		}
		if !(c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9')) {
			return i
		}
	}
	return len(s)
}

func isIdentifier(s string) bool {
	return s != "" && identifierLen(s) == len(s)
}
