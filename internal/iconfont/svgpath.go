package iconfont

import (
	"fmt"
	"strconv"
	"strings"
)

// affine maps glyph coordinates into font units: x' = (x-ox)*s and
// y' = (oy-y)*s, flipping the y axis.
type affine struct {
	ox, oy, s float64
}

func (a affine) point(x, y float64) (float64, float64) {
	return (x - a.ox) * a.s, (a.oy - y) * a.s
}

// pathScanner reads numbers and commands out of SVG path data.
type pathScanner struct {
	s   string
	pos int
}

func (p *pathScanner) skip() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r', ',':
			p.pos++
		default:
			return
		}
	}
}

func (p *pathScanner) command() (byte, bool) {
	p.skip()
	if p.pos >= len(p.s) {
		return 0, false
	}
	c := p.s[p.pos]
	if strings.IndexByte("MmLlHhVvCcSsQqTtAaZz", c) < 0 {
		return 0, false
	}
	p.pos++
	return c, true
}

func (p *pathScanner) atNumber() bool {
	p.skip()
	if p.pos >= len(p.s) {
		return false
	}
	c := p.s[p.pos]
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

func (p *pathScanner) number() (float64, error) {
	p.skip()
	start := p.pos
	if p.pos < len(p.s) && (p.s[p.pos] == '-' || p.s[p.pos] == '+') {
		p.pos++
	}
	dot, digits := false, false
scan:
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' && !dot:
			dot = true
		case (c == 'e' || c == 'E') && digits:
			if p.pos+1 < len(p.s) && (p.s[p.pos+1] == '-' || p.s[p.pos+1] == '+') {
				p.pos++
			}
		default:
			break scan
		}
		p.pos++
	}
	if !digits {
		return 0, fmt.Errorf("expected number at offset %d", start)
	}
	return strconv.ParseFloat(p.s[start:p.pos], 64)
}

// flag reads an arc flag, which may be written without separators.
func (p *pathScanner) flag() (bool, error) {
	p.skip()
	if p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '0':
			p.pos++
			return false, nil
		case '1':
			p.pos++
			return true, nil
		}
	}
	return false, fmt.Errorf("expected arc flag at offset %d", p.pos)
}

func (p *pathScanner) numbers(n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := p.number()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func fmtNum(v float64) string {
	if v > -0.0005 && v < 0.0005 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round3(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*1000+0.5)) / 1000
	}
	return float64(int64(v*1000+0.5)) / 1000
}

// transformPath rewrites path data d with every command made absolute and
// mapped through a.
func transformPath(d string, a affine) (string, error) {
	var out strings.Builder
	sc := &pathScanner{s: d}
	var cx, cy, sx, sy float64
	var cmd byte
	haveCmd := false

	emit := func(c byte, pts ...float64) {
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		out.WriteByte(c)
		for i := 0; i+1 < len(pts); i += 2 {
			x, y := a.point(pts[i], pts[i+1])
			fmt.Fprintf(&out, "%s %s", fmtNum(round3(x)), fmtNum(round3(y)))
			if i+2 < len(pts) {
				out.WriteByte(' ')
			}
		}
	}

	for {
		if c, ok := sc.command(); ok {
			cmd, haveCmd = c, true
		} else if !haveCmd || !sc.atNumber() {
			sc.skip()
			if sc.pos < len(sc.s) {
				return "", fmt.Errorf("unexpected %q at offset %d", sc.s[sc.pos], sc.pos)
			}
			break
		}

		rel := cmd >= 'a' && cmd <= 'z'
		ox, oy := 0.0, 0.0
		if rel {
			ox, oy = cx, cy
		}

		switch cmd {
		case 'Z', 'z':
			emit('Z')
			cx, cy = sx, sy
			haveCmd = false
			continue
		case 'M', 'm':
			v, err := sc.numbers(2)
			if err != nil {
				return "", err
			}
			cx, cy = v[0]+ox, v[1]+oy
			sx, sy = cx, cy
			emit('M', cx, cy)
			// Further pairs after a move are implicit lines.
			if rel {
				cmd = 'l'
			} else {
				cmd = 'L'
			}
		case 'L', 'l', 'T', 't':
			v, err := sc.numbers(2)
			if err != nil {
				return "", err
			}
			cx, cy = v[0]+ox, v[1]+oy
			emit(upper(cmd), cx, cy)
		case 'H', 'h':
			v, err := sc.number()
			if err != nil {
				return "", err
			}
			cx = v + ox
			emit('L', cx, cy)
		case 'V', 'v':
			v, err := sc.number()
			if err != nil {
				return "", err
			}
			cy = v + oy
			emit('L', cx, cy)
		case 'C', 'c':
			v, err := sc.numbers(6)
			if err != nil {
				return "", err
			}
			emit('C', v[0]+ox, v[1]+oy, v[2]+ox, v[3]+oy, v[4]+ox, v[5]+oy)
			cx, cy = v[4]+ox, v[5]+oy
		case 'S', 's', 'Q', 'q':
			v, err := sc.numbers(4)
			if err != nil {
				return "", err
			}
			emit(upper(cmd), v[0]+ox, v[1]+oy, v[2]+ox, v[3]+oy)
			cx, cy = v[2]+ox, v[3]+oy
		case 'A', 'a':
			r, err := sc.numbers(3)
			if err != nil {
				return "", err
			}
			large, err := sc.flag()
			if err != nil {
				return "", err
			}
			sweep, err := sc.flag()
			if err != nil {
				return "", err
			}
			end, err := sc.numbers(2)
			if err != nil {
				return "", err
			}
			cx, cy = end[0]+ox, end[1]+oy
			x, y := a.point(cx, cy)
			// Flipping the y axis mirrors the rotation and the sweep.
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			fmt.Fprintf(&out, "A%s %s %s %d %d %s %s",
				fmtNum(round3(r[0]*a.s)), fmtNum(round3(r[1]*a.s)), fmtNum(-r[2]),
				b2i(large), b2i(!sweep), fmtNum(round3(x)), fmtNum(round3(y)))
		}
	}
	return out.String(), nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
