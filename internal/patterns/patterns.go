package patterns

import (
	"strings"
	"unicode"

	"mlc/internal/diag"
	"mlc/internal/source"
)

// Run screens the raw unit text against the rule table and returns the
// findings as diagnostics. Matches are located by line and column so
// they merge deterministically with the deep analyzer's output.
func Run(unit *source.Unit, rules []Rule) diag.List {
	var out diag.List
	lines := unit.Lines()
	for _, rule := range rules {
		switch rule.Kind {
		case KindSubstring:
			out = append(out, scanSubstring(unit, lines, rule)...)
		case KindRegex:
			out = append(out, scanRegex(unit, lines, rule)...)
		case KindUnicode:
			out = append(out, scanUnicode(unit, lines, rule)...)
		}
	}
	return out
}

func finding(unit *source.Unit, rule Rule, line, col, width int) diag.Diagnostic {
	start := source.Pos{Line: line, Column: col}
	end := source.Pos{Line: line, Column: col + width}
	return diag.Diagnostic{
		Severity: rule.severity(),
		Stage:    diag.StagePatterns,
		Code:     rule.Code,
		Message:  rule.Message,
		Location: source.Location{Unit: unit.Path, Span: source.Span{Start: start, End: end}},
	}
}

func scanSubstring(unit *source.Unit, lines []string, rule Rule) diag.List {
	var out diag.List
	for i, line := range lines {
		idx := 0
		for {
			at := strings.Index(line[idx:], rule.Pattern)
			if at < 0 {
				break
			}
			col := idx + at + 1
			out = append(out, finding(unit, rule, i+1, col, len(rule.Pattern)))
			idx += at + len(rule.Pattern)
		}
	}
	return out
}

func scanRegex(unit *source.Unit, lines []string, rule Rule) diag.List {
	if rule.re == nil {
		return nil
	}
	var out diag.List
	for i, line := range lines {
		for _, loc := range rule.re.FindAllStringIndex(line, -1) {
			out = append(out, finding(unit, rule, i+1, loc[0]+1, loc[1]-loc[0]))
		}
	}
	return out
}

// zeroWidth lists the invisible code points screened unconditionally.
var zeroWidth = map[rune]struct{}{
	'\u200b': {}, // zero width space
	'\u200c': {}, // zero width non-joiner
	'\u200d': {}, // zero width joiner
	'\u2060': {}, // word joiner
	'\ufeff': {}, // byte order mark
}

func scanUnicode(unit *source.Unit, lines []string, rule Rule) diag.List {
	var out diag.List
	switch rule.Pattern {
	case "zero_width":
		for i, line := range lines {
			col := 0
			for _, r := range line {
				col++
				if _, hit := zeroWidth[r]; hit {
					out = append(out, finding(unit, rule, i+1, col, 1))
				}
			}
		}
	case "mixed_script":
		for i, line := range lines {
			for col, word := range identifierRuns(line) {
				if mixesScripts(word) {
					out = append(out, finding(unit, rule, i+1, col, len(word)))
				}
			}
		}
	}
	return out
}

// identifierRuns yields identifier-shaped runs with their 1-based
// starting columns.
func identifierRuns(line string) map[int]string {
	out := make(map[int]string)
	runes := []rune(line)
	i := 0
	for i < len(runes) {
		if unicode.IsLetter(runes[i]) || runes[i] == '_' {
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			out[start+1] = string(runes[start:i])
			continue
		}
		i++
	}
	return out
}

// mixesScripts reports whether a word contains both Latin and
// Cyrillic/Greek letters, the classic homoglyph smuggle.
func mixesScripts(word string) bool {
	var latin, confusable bool
	for _, r := range word {
		switch {
		case unicode.In(r, unicode.Latin):
			latin = true
		case unicode.In(r, unicode.Cyrillic), unicode.In(r, unicode.Greek):
			confusable = true
		}
	}
	return latin && confusable
}

// Veto drops findings that token-level context proves harmless: hits
// whose location falls inside a `//` comment. This is the deep
// analyzer's context applied to the breadth scan's output.
func Veto(unit *source.Unit, findings diag.List) diag.List {
	lines := unit.Lines()
	out := findings[:0]
	for _, d := range findings {
		lineNo := d.Location.Span.Start.Line
		if lineNo >= 1 && lineNo <= len(lines) {
			if ci := commentStart(lines[lineNo-1]); ci >= 0 && d.Location.Span.Start.Column > ci {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

// commentStart returns the 1-based column where a `//` comment begins,
// or -1. String literals containing `//` are respected.
func commentStart(line string) int {
	inString := rune(0)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString != 0 {
			if r == '\\' {
				i++
			} else if r == inString {
				inString = 0
			}
			continue
		}
		switch r {
		case '"', '\'':
			inString = r
		case '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				return i + 1
			}
		}
	}
	return -1
}
