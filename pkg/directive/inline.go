package directive

import "strings"

// ParseInline scans paragraph text for markdown links ("[text](uri)") and
// inline directives (":name[inner]{k=v ...}"), in document order. Plain
// text between matches is not returned — callers already have the full
// paragraph text and only need the located directives/links within it.
func ParseInline(text string) []Node {
	var nodes []Node
	i := 0
	for i < len(text) {
		switch text[i] {
		case ':':
			if n, next, ok := scanInlineDirective(text, i); ok {
				nodes = append(nodes, n)
				i = next
				continue
			}
		case '[':
			if n, next, ok := scanLink(text, i); ok {
				nodes = append(nodes, n)
				i = next
				continue
			}
		}
		i++
	}
	return nodes
}

// scanInlineDirective matches ":name[inner]{k=v ...}" starting at i, where
// i indexes the leading ':'. The "{...}" attribute suffix is optional.
func scanInlineDirective(text string, i int) (Node, int, bool) {
	rest := text[i+1:]
	name := nameRE.FindString(rest)
	if name == "" {
		return Node{}, 0, false
	}
	pos := i + 1 + len(name)
	if pos >= len(text) || text[pos] != '[' {
		return Node{}, 0, false
	}
	innerStart := pos + 1
	innerEnd, ok := matchBracket(text, pos, '[', ']')
	if !ok {
		return Node{}, 0, false
	}
	end := innerEnd + 1

	attrs := map[string]string{}
	if end < len(text) && text[end] == '{' {
		closeBrace, ok := matchBracket(text, end, '{', '}')
		if ok {
			attrs = parseAttrs(text[end+1 : closeBrace])
			end = closeBrace + 1
		}
	}

	return Node{
		Kind:  KindInline,
		Name:  name,
		Inner: text[innerStart:innerEnd],
		Attrs: attrs,
		Start: i, End: end,
	}, end, true
}

// scanLink matches "[text](uri)" starting at i, where i indexes the '['.
func scanLink(text string, i int) (Node, int, bool) {
	textEnd, ok := matchBracket(text, i, '[', ']')
	if !ok {
		return Node{}, 0, false
	}
	pos := textEnd + 1
	if pos >= len(text) || text[pos] != '(' {
		return Node{}, 0, false
	}
	uriEnd, ok := matchBracket(text, pos, '(', ')')
	if !ok {
		return Node{}, 0, false
	}
	end := uriEnd + 1
	return Node{
		Kind: KindLink,
		Text: text[i+1 : textEnd],
		URI:  text[pos+1 : uriEnd],
		Start: i, End: end,
	}, end, true
}

// matchBracket returns the index of the closing bracket matching the
// opening bracket at openIdx, honoring nested pairs of the same kind.
func matchBracket(text string, openIdx int, open, close byte) (int, bool) {
	depth := 0
	for j := openIdx; j < len(text); j++ {
		switch text[j] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return j, true
			}
		}
	}
	return 0, false
}

// parseAttrs parses a simple "k=v k2=v2" or "k=\"v\"" attribute body.
func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	fields := splitAttrFields(s)
	for _, f := range fields {
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			if key := strings.TrimSpace(f); key != "" {
				attrs[key] = ""
			}
			continue
		}
		key := strings.TrimSpace(f[:eq])
		val := strings.TrimSpace(f[eq+1:])
		val = strings.Trim(val, `"'`)
		if key != "" {
			attrs[key] = val
		}
	}
	return attrs
}

// splitAttrFields splits on whitespace, but not inside quotes.
func splitAttrFields(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
