package variables

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Syntax describes how definitions and references are written. The default matches
// i3: "set $name value" defines, "$name" references.
type Syntax struct {
	Keyword string
	Sigil   string
}

// DefaultSyntax returns the i3 syntax.
func DefaultSyntax() Syntax {
	return Syntax{Keyword: "set", Sigil: "$"}
}

// Definition is a definition line split into its parts. ValueOffset indexes the
// original line.
type Definition struct {
	Name        string
	Value       string
	ValueOffset int
}

// IsComment reports whether line is a comment.
func IsComment(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "#")
}

// ParseDefinition recognises "<keyword> <sigil><name> [value]" with arbitrary
// leading indentation.
func (s Syntax) ParseDefinition(line string) (Definition, bool) {
	i := len(line) - len(strings.TrimLeft(line, " \t"))
	if !strings.HasPrefix(line[i:], s.Keyword) {
		return Definition{}, false
	}
	i += len(s.Keyword)
	ws := skipSpace(line, i)
	if ws == i {
		return Definition{}, false
	}
	i = ws
	if !strings.HasPrefix(line[i:], s.Sigil) {
		return Definition{}, false
	}
	i += len(s.Sigil)
	end := scanName(line, i)
	if end == i {
		return Definition{}, false
	}
	name := line[i:end]
	if end < len(line) && line[end] != ' ' && line[end] != '\t' {
		return Definition{}, false
	}
	start := skipSpace(line, end)
	return Definition{
		Name:        name,
		Value:       strings.TrimRight(line[start:], " \t\r"),
		ValueOffset: start,
	}, true
}

// scanReferences calls visit for every sigil followed by at least one name character.
// start is the offset of the sigil, end the offset after the name token.
func (s Syntax) scanReferences(text string, visit func(start, end int, token string)) {
	if s.Sigil == "" {
		return
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], s.Sigil)
		if idx < 0 {
			return
		}
		start := offset + idx
		nameStart := start + len(s.Sigil)
		end := scanName(text, nameStart)
		if end > nameStart {
			visit(start, end, text[nameStart:end])
			offset = end
			continue
		}
		offset = nameStart
	}
}

func scanName(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isNameRune(r) {
			break
		}
		i += size
	}
	return i
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func skipSpace(line string, i int) int {
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	return i
}

// LogicalLine is one configuration line after backslash continuations are joined.
type LogicalLine struct {
	// Text is the joined line; each continuation boundary becomes a single space.
	Text string
	// Physical holds the source lines that make up Text, unchanged.
	Physical []string
	// Line is the 1-based number of the first physical line.
	Line int
}

// JoinContinuations splits content into logical lines the way i3 reads them: a line
// whose last non-blank character is a backslash continues on the next line. A
// backslash on the final line has nothing to join and is kept.
func JoinContinuations(content string) []LogicalLine {
	physical := strings.Split(content, "\n")
	out := make([]LogicalLine, 0, len(physical))
	for i := 0; i < len(physical); {
		ll := LogicalLine{Line: i + 1}
		var parts []string
		for {
			p := physical[i]
			ll.Physical = append(ll.Physical, p)
			i++
			if len(parts) > 0 {
				p = strings.TrimLeft(p, " \t")
			}
			trimmed := strings.TrimRight(p, " \t\r")
			if strings.HasSuffix(trimmed, `\`) && i < len(physical) {
				parts = append(parts, strings.TrimRight(strings.TrimSuffix(trimmed, `\`), " \t"))
				continue
			}
			parts = append(parts, p)
			break
		}
		ll.Text = strings.Join(parts, " ")
		out = append(out, ll)
	}
	return out
}
