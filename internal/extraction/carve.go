package extraction

import "strings"

// Candidate is the result of carving a model reply: either the text of one
// JSON object or NotFound.
type Candidate struct {
	text  string
	found bool
}

// NotFound is the Candidate returned when no object could be located
var NotFound = Candidate{}

// Found reports whether the candidate holds object text
func (c Candidate) Found() bool {
	return c.found
}

// String returns the carved object text, or "" for NotFound
func (c Candidate) String() string {
	return c.text
}

// CandidateOf wraps text that is already known to be a JSON object
func CandidateOf(text string) Candidate {
	return Candidate{text: text, found: true}
}

// Carve locates the first balanced JSON object in text. Braces inside string
// literals are ignored, as are braces in prose that cannot open an object,
// such as "{opcionales:". When the braces never balance, the span from the
// opening '{' to the last '}' is returned so the parser can describe the
// problem.
func Carve(text string) Candidate {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return NotFound
	}
	if next := objectStart(text, start); next != -1 {
		start = next
	}

	if end := balancedEnd(text, start); end != -1 {
		return CandidateOf(text[start : end+1])
	}

	last := strings.LastIndexByte(text, '}')
	if last < start {
		return NotFound
	}
	return CandidateOf(text[start : last+1])
}

// objectStart returns the first '{' at or after from that is followed by a
// key or a closing brace, or -1 if there is none.
func objectStart(text string, from int) int {
	for i := from; i != -1; {
		rest := strings.TrimLeft(text[i+1:], " \t\r\n")
		if strings.HasPrefix(rest, `"`) || strings.HasPrefix(rest, "}") {
			return i
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next == -1 {
			return -1
		}
		i += next + 1
	}
	return -1
}

// balancedEnd returns the index of the '}' closing the object opened at
// start, or -1 if it is never closed.
func balancedEnd(text string, start int) int {
	var (
		depth    int
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
