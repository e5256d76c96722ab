package ai

import (
	"context"
	"fmt"
	"strings"
)

// NoMatch is returned by MatchItem when the text is about none of the items.
const NoMatch = "none"

const matchPrompt = `
Which item is this text "%s" about. The item list is here: %s.

If a match is found, return only one item name in the exact same words as in the list, with "" around the string.

If no match is found, return only one word none, with "" around the string.

Only respond the string. Please do not include any other words except the string in your reply.
`

// MatchItem asks the provider which of items the text refers to. The answer
// is stripped of its surrounding quotes and must name one of items exactly;
// anything else yields NoMatch.
func MatchItem(ctx context.Context, p Provider, text string, items []string) (string, error) {
	prompt := fmt.Sprintf(matchPrompt, text, formatItems(items))
	reply, err := p.Chat(ctx,
		[]Message{{Role: "developer", Content: prompt}},
		WithMaxTokens(150),
		WithTemperature(0),
	)
	if err != nil {
		return "", err
	}
	answer := unquote(reply)
	for _, it := range items {
		if answer == it {
			return it, nil
		}
	}
	return NoMatch, nil
}

func formatItems(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, it := range items {
		quoted = append(quoted, fmt.Sprintf("'%s'", it))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
		return s[1 : len(s)-1]
	}
	return s
}
