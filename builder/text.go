package builder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/encoding/unicode"
)

// Elements whose content is never rendered as text.
var invisibleTags = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"title":    true,
	"noscript": true,
}

// HTMLToText strips markup, keeping one line per text node.
func HTMLToText(doc string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		lines []string
		skip  int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("tokenize html: %w", err)
			}
			return strings.Join(lines, "\n"), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if invisibleTags[string(name)] {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if invisibleTags[string(name)] && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := strings.TrimSpace(string(z.Text())); text != "" {
				lines = append(lines, text)
			}
		}
	}
}

// DecodeText decodes a body as UTF-8, replacing undecodable sequences and
// dropping a leading byte order mark.
func DecodeText(b []byte) string {
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "\uFFFD")
	}
	return string(out)
}
