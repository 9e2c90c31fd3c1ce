package iconfont

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// icon is a parsed source SVG: its viewport and the outline of every shape
// translated to path data.
type icon struct {
	name, source string
	x, y, w, h   float64
	paths        []string
}

// skipped elements never contribute outlines.
var skipped = map[string]bool{
	"defs": true, "clippath": true, "mask": true, "pattern": true,
	"symbol": true, "title": true, "desc": true, "metadata": true, "style": true,
}

func attrs(z *html.Tokenizer) map[string]string {
	out := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		out[string(key)] = string(val)
		if !more {
			return out
		}
	}
}

func parseIcon(data []byte) (*icon, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	ic := &icon{}
	seenSVG := false
	depth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				if !seenSVG {
					return nil, errors.New("no <svg> element")
				}
				if ic.w <= 0 || ic.h <= 0 {
					return nil, errors.New("icon has no size: set viewBox or width and height")
				}
				return ic, nil
			}
			return nil, z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			nameBytes, hasAttr := z.TagName()
			name := string(nameBytes)
			a := map[string]string{}
			if hasAttr {
				a = attrs(z)
			}

			if skipped[name] {
				if tt == html.StartTagToken {
					depth++
				}
				continue
			}
			if depth > 0 {
				continue
			}

			if name == "svg" && !seenSVG {
				seenSVG = true
				if err := ic.viewport(a); err != nil {
					return nil, err
				}
				continue
			}
			d, err := shapePath(name, a)
			if err != nil {
				return nil, fmt.Errorf("<%s>: %w", name, err)
			}
			if d != "" {
				ic.paths = append(ic.paths, d)
			}

		case html.EndTagToken:
			nameBytes, _ := z.TagName()
			if skipped[string(nameBytes)] && depth > 0 {
				depth--
			}
		}
	}
}

func (ic *icon) viewport(a map[string]string) error {
	// The tokenizer lower-cases attribute names.
	if vb, ok := a["viewbox"]; ok {
		v, err := parseList(vb)
		if err != nil || len(v) != 4 {
			return fmt.Errorf("invalid viewBox %q", vb)
		}
		ic.x, ic.y, ic.w, ic.h = v[0], v[1], v[2], v[3]
		return nil
	}
	ic.w = length(a["width"])
	ic.h = length(a["height"])
	return nil
}

// length parses a user-unit length such as "24" or "24px".
func length(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "px"), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseList(s string) ([]float64, error) {
	sc := &pathScanner{s: s}
	var out []float64
	for sc.atNumber() {
		v, err := sc.number()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sc.skip()
	if sc.pos < len(sc.s) {
		return nil, fmt.Errorf("unexpected %q", sc.s[sc.pos:])
	}
	return out, nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// shapePath converts a basic shape to path data. Unknown elements yield "".
func shapePath(name string, a map[string]string) (string, error) {
	switch name {
	case "path":
		return strings.TrimSpace(a["d"]), nil

	case "polygon", "polyline":
		pts, err := parseList(a["points"])
		if err != nil {
			return "", err
		}
		if len(pts) < 4 || len(pts)%2 != 0 {
			return "", errors.New("points needs at least two coordinate pairs")
		}
		var b strings.Builder
		fmt.Fprintf(&b, "M%s %s", num(pts[0]), num(pts[1]))
		for i := 2; i < len(pts); i += 2 {
			fmt.Fprintf(&b, " L%s %s", num(pts[i]), num(pts[i+1]))
		}
		b.WriteString(" Z")
		return b.String(), nil

	case "rect":
		x, y := length(a["x"]), length(a["y"])
		w, h := length(a["width"]), length(a["height"])
		if w <= 0 || h <= 0 {
			return "", nil
		}
		return fmt.Sprintf("M%s %s H%s V%s H%s Z", num(x), num(y), num(x+w), num(y+h), num(x)), nil

	case "circle":
		r := length(a["r"])
		return ellipsePath(length(a["cx"]), length(a["cy"]), r, r), nil

	case "ellipse":
		return ellipsePath(length(a["cx"]), length(a["cy"]), length(a["rx"]), length(a["ry"])), nil
	}
	return "", nil
}

func ellipsePath(cx, cy, rx, ry float64) string {
	if rx <= 0 || ry <= 0 || math.IsNaN(rx) || math.IsNaN(ry) {
		return ""
	}
	return fmt.Sprintf("M%s %s A%s %s 0 1 0 %s %s A%s %s 0 1 0 %s %s Z",
		num(cx-rx), num(cy),
		num(rx), num(ry), num(cx+rx), num(cy),
		num(rx), num(ry), num(cx-rx), num(cy))
}
