// Package templexp expands shell style ${...} parameter references in config text.
//
// Only the braced form is recognised; a bare $VAR is left alone and "$$" is a
// literal dollar. Supported forms:
//
//	${VAR}                      value, or empty when unset
//	${VAR:-word} ${VAR-word}    fallback
//	${VAR:+word} ${VAR+word}    alternate
//	${VAR:?msg}  ${VAR?msg}     required, fails with msg
//	${VAR:=word} ${VAR=word}    fallback assigned for the rest of the text
//
// With the colon, an empty value counts as unset. Unrecognised expressions
// are copied unchanged.
package templexp

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrRequired is wrapped by errors of ${VAR?msg} references to unset variables.
var ErrRequired = errors.New("required variable not set")

// LookupFunc returns a variable and whether it is set.
type LookupFunc func(name string) (string, bool)

// expander holds one expansion pass. Assignments made with := only live here.
type expander struct {
	lookup   LookupFunc
	assigned map[string]string
}

func (e *expander) get(name string) (string, bool) {
	if v, ok := e.assigned[name]; ok {
		return v, true
	}
	return e.lookup(name)
}

// Expand expands text against lookup. A nil lookup reads the process environment.
func Expand(text string, lookup LookupFunc) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if !strings.Contains(text, "$") {
		return text, nil
	}
	e := &expander{lookup: lookup, assigned: make(map[string]string)}
	return e.expand(text)
}

func isVarNameStart(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || ch == '_'
}

func isVarNameChar(ch byte) bool {
	return isVarNameStart(ch) || (ch >= '0' && ch <= '9')
}

// splitExpression splits "NAME:-word" into name, operator and word.
func splitExpression(expr string) (name, op, word string, ok bool) {
	if expr == "" || !isVarNameStart(expr[0]) {
		return "", "", "", false
	}

	i := 1
	for i < len(expr) && isVarNameChar(expr[i]) {
		i++
	}

	name, rest := expr[:i], expr[i:]
	if rest == "" {
		return name, "", "", true
	}
	if len(rest) >= 2 && rest[0] == ':' && strings.IndexByte("-+?=", rest[1]) >= 0 {
		return name, rest[:2], rest[2:], true
	}
	if strings.IndexByte("-+?=", rest[0]) >= 0 {
		return name, rest[:1], rest[1:], true
	}
	return "", "", "", false
}

func (e *expander) word(word string) (string, error) {
	if !strings.Contains(word, "${") {
		return word, nil
	}
	return e.expand(word)
}

func (e *expander) expression(expr string) (string, bool, error) {
	name, op, word, ok := splitExpression(expr)
	if !ok {
		return "", false, nil
	}

	val, isSet := e.get(name)
	unset := !isSet
	if strings.HasPrefix(op, ":") {
		unset = !isSet || val == ""
	}

	switch strings.TrimPrefix(op, ":") {
	case "":
		return val, true, nil
	case "-":
		if unset {
			out, err := e.word(word)
			return out, err == nil, err
		}
		return val, true, nil
	case "+":
		if !unset {
			out, err := e.word(word)
			return out, err == nil, err
		}
		return "", true, nil
	case "?":
		if unset {
			msg, err := e.word(word)
			if err != nil {
				return "", false, err
			}
			if msg == "" {
				msg = "parameter null or not set"
			}
			return "", false, fmt.Errorf("%w: %s: %s", ErrRequired, name, msg)
		}
		return val, true, nil
	case "=":
		if unset {
			out, err := e.word(word)
			if err != nil {
				return "", false, err
			}
			e.assigned[name] = out
			return out, true, nil
		}
		return val, true, nil
	}
	return "", false, nil
}

func (e *expander) expand(text string) (string, error) {
	var buf strings.Builder
	buf.Grow(len(text))

	for i := 0; i < len(text); {
		ch := text[i]
		if ch != '$' || i+1 >= len(text) {
			buf.WriteByte(ch)
			i++
			continue
		}

		switch text[i+1] {
		case '$':
			buf.WriteByte('$')
			i += 2
			continue
		case '{':
		default:
			buf.WriteByte(ch)
			i++
			continue
		}

		end := matchingBrace(text, i+2)
		if end == -1 {
			buf.WriteByte(ch)
			i++
			continue
		}

		out, ok, err := e.expression(text[i+2 : end])
		if err != nil {
			return "", err
		}
		if ok {
			buf.WriteString(out)
		} else {
			buf.WriteString(text[i : end+1])
		}
		i = end + 1
	}

	return buf.String(), nil
}

// matchingBrace returns the index of the brace closing the reference opened
// before start, skipping nested references, or -1.
func matchingBrace(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		if text[i] == '$' && i+1 < len(text) && text[i+1] == '{' {
			depth++
			i++
			continue
		}
		if text[i] == '}' {
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}
