package extract

// FindArray returns the first JSON array in text whose first element is an
// object. Brackets inside string literals are ignored, so prose around the
// array and brackets inside field values do not confuse the match.
func FindArray(text string) (string, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '[' {
			continue
		}
		if end, ok := scanArray(text, i); ok {
			return text[i:end], nil
		}
	}
	return "", ErrNoStructuredData
}

// scanArray returns the exclusive end of the balanced array starting at start
func scanArray(text string, start int) (int, bool) {
	first := start + 1
	for first < len(text) && isSpace(text[first]) {
		first++
	}
	if first >= len(text) || text[first] != '{' {
		return 0, false
	}

	var (
		closers  []byte
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
		case '[':
			closers = append(closers, ']')
		case '{':
			closers = append(closers, '}')
		case ']', '}':
			if len(closers) == 0 || closers[len(closers)-1] != c {
				return 0, false
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				return i + 1, true
			}
		}
	}

	// Unterminated
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
