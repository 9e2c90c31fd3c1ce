package producers

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// droppedElements are removed together with their content.
var droppedElements = map[string]bool{
	"metadata":           true,
	"sodipodi:namedview": true,
}

// MinifySVG strips comments, declarations, editor metadata and inter-tag
// whitespace. Tags are emitted from the raw input so attribute case, and
// with it viewBox, survives.
func MinifySVG(src []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(src))
	z.AllowCDATA(true)

	var out bytes.Buffer
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return out.Bytes(), nil
			}
			return nil, z.Err()

		case html.CommentToken, html.DoctypeToken:
			continue

		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			raw := z.Raw()
			name, _ := z.TagName()
			if droppedElements[string(name)] {
				switch tt {
				case html.StartTagToken:
					skipDepth++
				case html.EndTagToken:
					if skipDepth > 0 {
						skipDepth--
					}
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			out.Write(collapseTag(raw))

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			raw := z.Raw()
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			out.Write(bytes.TrimSpace(raw))
		}
	}
}

// collapseTag squeezes whitespace runs inside a tag to single spaces,
// leaving quoted attribute values untouched.
func collapseTag(raw []byte) []byte {
	var b strings.Builder
	b.Grow(len(raw))
	var quote byte
	space := false
	for _, c := range raw {
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			space = true
			continue
		case '"', '\'':
			quote = c
		}
		if space && c != '>' && c != '/' {
			b.WriteByte(' ')
		}
		space = false
		b.WriteByte(c)
	}
	return []byte(b.String())
}
