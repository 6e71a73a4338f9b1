// Package htmltext reduces segment markup to plain text for length gating
// and content samples.
package htmltext

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Strip removes all markup from a segment's content and collapses runs of
// whitespace to single spaces. Invalid markup degrades to text, never to an
// error; segment content is user input.
func Strip(fragment string) string {
	if fragment == "" {
		return ""
	}
	tokenizer := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(tokenizer.Text())
		}
	}
	return collapse(b.String())
}

// Length is the normalized character count of a fragment: markup stripped,
// whitespace collapsed, counted in runes.
func Length(fragment string) int {
	return utf8.RuneCountInString(Strip(fragment))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
