// Package errorfix pulls the barcodes named in an export tool's error message.
package errorfix

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var barcodePattern = regexp.MustCompile(`(?i)código de barras '(\d+)'`)

// Extract returns the barcodes quoted in input, in first-seen order without
// repeats. Input may be HTML; markup is dropped and entities decoded first.
func Extract(input string) []string {
	text := norm.NFC.String(Text(input))

	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, m := range barcodePattern.FindAllStringSubmatch(text, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}

// Text concatenates the text nodes of an HTML fragment, skipping script and style bodies.
func Text(input string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(input))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String()
			}
			return input
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawText(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawText(tag []byte) bool {
	return string(tag) == "script" || string(tag) == "style"
}
