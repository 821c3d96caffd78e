package intent

import (
	"strings"
	"unicode"

	"github.com/ent0n29/copilot/internal/policy"
)

var quoteNormalizer = strings.NewReplacer("’", "'", "‘", "'")

// Interpret maps an utterance to a command using the fixed trigger table.
// It has no side effects and never fails: input that matches nothing,
// including the empty string, yields the unknown command.
func Interpret(utterance string) ParsedCommand {
	collapsed := collapse(utterance)
	if collapsed == "" {
		return unknownCommand()
	}
	padded := " " + strings.Join(words(strings.ToLower(collapsed)), " ") + " "

	for _, t := range triggers {
		if cmd, ok := t.match(collapsed, padded); ok {
			return cmd
		}
	}
	return unknownCommand()
}

func (t Trigger) match(collapsed, padded string) (ParsedCommand, bool) {
	params := make(map[string]string, len(t.Fixed)+1)
	for k, v := range t.Fixed {
		params[k] = v
	}

	if len(t.Prefixes) > 0 {
		rest, ok := afterPrefix(collapsed, t.Prefixes)
		if !ok {
			return ParsedCommand{}, false
		}
		params[t.Param] = rest
	}
	for _, w := range t.All {
		if !containsPhrase(padded, w) {
			return ParsedCommand{}, false
		}
	}
	if len(t.Any) > 0 {
		hit := false
		for _, p := range t.Any {
			if containsPhrase(padded, p) {
				hit = true
				break
			}
		}
		if !hit {
			return ParsedCommand{}, false
		}
	}

	return ParsedCommand{
		Intent:               t.Intent,
		Action:               t.Action,
		Parameters:           params,
		Confidence:           t.Confidence,
		RequiresConfirmation: policy.DecideAction(t.Action).RequiresConfirmation,
	}, true
}

func unknownCommand() ParsedCommand {
	return ParsedCommand{
		Intent:     IntentUnknown,
		Action:     ActionUnknown,
		Parameters: map[string]string{},
		Confidence: ConfidenceUnknown,
	}
}

// collapse trims, folds curly quotes and squeezes whitespace runs, keeping case.
func collapse(raw string) string {
	return strings.Join(strings.Fields(quoteNormalizer.Replace(raw)), " ")
}

func words(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
}

func containsPhrase(padded, phrase string) bool {
	return strings.Contains(padded, " "+phrase+" ")
}

// afterPrefix finds the first prefix occurrence on word boundaries and returns
// the remainder of the original text with its case intact.
func afterPrefix(collapsed string, prefixes []string) (string, bool) {
	lower := strings.ToLower(collapsed)
	source := collapsed
	if len(lower) != len(collapsed) {
		// Case folding changed byte offsets; fall back to the folded text.
		source = lower
	}

	for _, p := range prefixes {
		from := 0
		for from <= len(lower) {
			idx := strings.Index(lower[from:], p)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(p)
			if boundaryBefore(lower, start) && boundaryAfter(lower, end) {
				return strings.TrimSpace(source[end:]), true
			}
			from = start + 1
		}
	}
	return "", false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return r < 0x80 && !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r := rune(s[i])
	return r < 0x80 && !isWordRune(r)
}
