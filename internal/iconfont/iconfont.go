// Package iconfont turns a directory of SVG icons into an SVG font and a
// stylesheet partial mapping glyph names to codepoints.
package iconfont

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
	"github.com/villasimius/sitebuild/internal/validation"
)

// DefaultStartCodepoint is the first codepoint of the private use range
// handed out to glyphs.
const DefaultStartCodepoint = 0xEA01

//go:embed glyphs.tmpl
var defaultTemplate string

type Config struct {
	SourceDir string
	Pattern   *glob.Pattern
	FontName  string
	// OutputDir receives <FontName>.svg and any converted formats.
	OutputDir string
	// Partial is the stylesheet partial path.
	Partial string
	// Template is an optional text/template file overriding the embedded one.
	Template       string
	StartCodepoint int
	// Normalize scales every glyph to the tallest icon's height.
	Normalize bool
	// Convert is an optional command run in OutputDir after the SVG font is
	// written. "{font}" expands to the SVG font file name and "{name}" to
	// FontName.
	Convert string
}

// Glyph is one icon of the font.
type Glyph struct {
	Name      string
	Label     string
	Source    string
	Codepoint rune
	Width     float64
	Height    float64
	Path      string
}

// Hex is the codepoint in lower-case hex, as used in CSS escapes.
func (g Glyph) Hex() string { return strconv.FormatInt(int64(g.Codepoint), 16) }

// Unicode is the glyph's character.
func (g Glyph) Unicode() string { return string(g.Codepoint) }

// TemplateData is the partial template input.
type TemplateData struct {
	FontName string
	FontPath string
	Glyphs   []Glyph
}

type Producer struct {
	cfg    Config
	logger logging.Logger
	run    func(ctx context.Context, dir, name string, args ...string) error
}

func New(cfg Config, logger logging.Logger) *Producer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.StartCodepoint == 0 {
		cfg.StartCodepoint = DefaultStartCodepoint
	}
	if cfg.FontName == "" {
		cfg.FontName = "icons"
	}
	return &Producer{cfg: cfg, logger: logger.WithComponent("iconfont"), run: runCommand}
}

func (p *Producer) Name() string { return "iconfont" }

func (p *Producer) Outputs() []string {
	return []string{p.FontPath(), p.cfg.Partial}
}

// FontPath is where the SVG font is written.
func (p *Producer) FontPath() string {
	return filepath.Join(p.cfg.OutputDir, p.cfg.FontName+".svg")
}

func (p *Producer) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	glyphs, err := p.Glyphs()
	if err != nil {
		return err
	}

	var font bytes.Buffer
	writeFont(&font, p.cfg.FontName, glyphs)
	if err := writeFile(p.FontPath(), font.Bytes()); err != nil {
		return err
	}

	if p.cfg.Convert != "" {
		if err := p.convert(ctx); err != nil {
			return err
		}
	}

	if err := p.writePartial(glyphs); err != nil {
		return err
	}
	p.logger.Info(ctx, "icon font generated", "glyphs", len(glyphs), "font", p.FontPath())
	return nil
}

var unsafeName = regexp.MustCompile(`[^\p{Ll}\p{Lu}\p{N}_-]+`)

var (
	lower = cases.Lower(language.Und)
	title = cases.Title(language.Und)
	fold  = cases.Fold()
)

func glyphName(file string) string {
	base := strings.TrimSuffix(path.Base(file), path.Ext(file))
	return strings.Trim(unsafeName.ReplaceAllString(lower.String(base), "-"), "-")
}

// Glyphs reads, sorts and numbers the icons. Codepoints follow the sorted
// name order so adding an icon only shifts the ones after it.
func (p *Producer) Glyphs() ([]Glyph, error) {
	files, err := p.cfg.Pattern.Expand(p.cfg.SourceDir)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeFilesystem, "expand icon sources", err)
	}

	icons := make([]*icon, 0, len(files))
	sources := make(map[string]string, len(files))
	for _, f := range files {
		name := glyphName(f)
		key := fold.String(name)
		if prev, ok := sources[key]; ok {
			return nil, errs.NewBuildError(errs.ErrCodeTransformFailed,
				fmt.Sprintf("icons %q and %q both map to the glyph name %q", prev, f, name), nil).
				WithLocation(f, 0)
		}
		sources[key] = f

		data, err := os.ReadFile(filepath.Join(p.cfg.SourceDir, filepath.FromSlash(f)))
		if err != nil {
			return nil, errs.NewIOError(errs.ErrCodeFilesystem, "read icon", err)
		}
		ic, err := parseIcon(data)
		if err != nil {
			return nil, errs.NewBuildError(errs.ErrCodeTransformFailed, "parse icon", err).WithLocation(f, 0)
		}
		ic.name = name
		ic.source = f
		icons = append(icons, ic)
	}

	sort.SliceStable(icons, func(i, j int) bool {
		return fold.String(icons[i].name) < fold.String(icons[j].name)
	})

	fontHeight := 0.0
	for _, ic := range icons {
		fontHeight = max(fontHeight, ic.h)
	}

	glyphs := make([]Glyph, 0, len(icons))
	for i, ic := range icons {
		scale := 1.0
		if p.cfg.Normalize && ic.h > 0 {
			scale = fontHeight / ic.h
		}
		// Without normalization short icons sit on the baseline.
		a := affine{ox: ic.x, oy: ic.y + ic.h, s: scale}
		var parts []string
		for _, d := range ic.paths {
			t, err := transformPath(d, a)
			if err != nil {
				return nil, errs.NewBuildError(errs.ErrCodeTransformFailed, "transform icon path", err).WithLocation(ic.source, 0)
			}
			parts = append(parts, t)
		}
		glyphs = append(glyphs, Glyph{
			Name:      ic.name,
			Label:     title.String(strings.ReplaceAll(ic.name, "-", " ")),
			Source:    ic.source,
			Codepoint: rune(p.cfg.StartCodepoint + i),
			Width:     round3(ic.w * scale),
			Height:    round3(ic.h * scale),
			Path:      strings.Join(parts, " "),
		})
	}
	return glyphs, nil
}

func (p *Producer) writePartial(glyphs []Glyph) error {
	text := defaultTemplate
	if p.cfg.Template != "" {
		data, err := os.ReadFile(p.cfg.Template)
		switch {
		case err == nil:
			text = string(data)
		case !errors.Is(err, fs.ErrNotExist):
			return errs.NewIOError(errs.ErrCodeFilesystem, "read glyph template", err)
		}
	}
	tmpl, err := template.New("glyphs").Parse(text)
	if err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "parse glyph template", err).WithLocation(p.cfg.Template, 0)
	}

	var buf bytes.Buffer
	data := TemplateData{FontName: p.cfg.FontName, FontPath: filepath.ToSlash(p.FontPath()), Glyphs: glyphs}
	if err := tmpl.Execute(&buf, data); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "render glyph partial", err)
	}
	return writeFile(p.cfg.Partial, buf.Bytes())
}

func (p *Producer) convert(ctx context.Context) error {
	expanded := strings.NewReplacer("{font}", p.cfg.FontName+".svg", "{name}", p.cfg.FontName).Replace(p.cfg.Convert)
	fields := strings.Fields(expanded)
	if len(fields) == 0 {
		return nil
	}
	if err := validation.ValidateCommand(fields[0], validation.ToolCommands); err != nil {
		return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "icon font converter")
	}
	for _, arg := range fields[1:] {
		if err := validation.ValidateArgument(arg); err != nil {
			return errs.Wrap(err, errs.ErrorTypeConfig, errs.ErrCodeInvalidCommand, "icon font converter argument")
		}
	}
	if err := p.run(ctx, p.cfg.OutputDir, fields[0], fields[1:]...); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "convert icon font", err)
	}
	return nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w\nOutput: %s", name, err, out)
	}
	return nil
}

const fontHeader = `<?xml version="1.0" standalone="no"?>
<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd">
<svg xmlns="http://www.w3.org/2000/svg">
<defs>
`

func writeFont(w io.Writer, name string, glyphs []Glyph) {
	ascent, advance := 0.0, 0.0
	for _, g := range glyphs {
		ascent = max(ascent, g.Height)
		advance = max(advance, g.Width)
	}
	if ascent == 0 {
		ascent = 1000
	}
	n := html.EscapeString(name)
	io.WriteString(w, fontHeader)
	fmt.Fprintf(w, "  <font id=\"%s\" horiz-adv-x=\"%s\">\n", n, fmtNum(advance))
	fmt.Fprintf(w, "    <font-face font-family=\"%s\" units-per-em=\"%s\" ascent=\"%s\" descent=\"0\"/>\n",
		n, fmtNum(ascent), fmtNum(ascent))
	io.WriteString(w, "    <missing-glyph horiz-adv-x=\"0\"/>\n")
	for _, g := range glyphs {
		fmt.Fprintf(w, "    <glyph glyph-name=\"%s\" unicode=\"&#x%s;\" horiz-adv-x=\"%s\" d=\"%s\"/>\n",
			html.EscapeString(g.Name), strings.ToUpper(g.Hex()), fmtNum(g.Width), html.EscapeString(g.Path))
	}
	io.WriteString(w, "  </font>\n</defs>\n</svg>\n")
}

func writeFile(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create output directory", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "write icon font output", err)
	}
	return nil
}
