package sprite

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"golang.org/x/image/draw"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

//go:embed sprites.tmpl
var defaultTemplate string

// Config locates the sprite inputs and outputs. Pattern is relative to
// SourceDir; sheet and partial paths are relative to SourceDir as well and
// are also the names handed to the partial template.
type Config struct {
	SourceDir   string
	Pattern     *glob.Pattern
	RetinaImage string
	Image       string
	Partial     string
	// TempDir receives the half-size tiles.
	TempDir string
	// Template is an optional text/template file; the embedded default is
	// used when it does not exist.
	Template string
	Padding  int
}

// Tile is one sprite on a sheet.
type Tile struct {
	Name   string
	Source string
	Rect
}

// Sheet is a packed sprite sheet.
type Sheet struct {
	Image  string
	Width  int
	Height int
	Tiles  []Tile
}

// Entry is the per-sprite record passed to the partial template. Offsets
// are negated positions for use as background-position.
type Entry struct {
	Name        string
	X, Y        int
	OffsetX     int
	OffsetY     int
	Width       int
	Height      int
	TotalWidth  int
	TotalHeight int
	Image       string
	RetinaImage string
}

// TemplateData is the partial template input.
type TemplateData struct {
	Retina   Sheet
	Standard Sheet
	Sprites  []Entry
}

// Producer generates both sheets and the partial.
type Producer struct {
	cfg     Config
	logger  logging.Logger
	onPhase func(phase int)
}

// New creates the sprites producer.
func New(cfg Config, logger logging.Logger) *Producer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Producer{cfg: cfg, logger: logger.WithComponent("sprites")}
}

// OnPhase registers fn to be called as each phase completes.
func (p *Producer) OnPhase(fn func(phase int)) { p.onPhase = fn }

func (p *Producer) Name() string { return "sprites" }

func (p *Producer) Outputs() []string {
	return []string{p.cfg.RetinaImage, p.cfg.Image, p.cfg.Partial}
}

// Produce runs phase one, then phase two from phase one's written sheet,
// then writes the partial. It returns only after all three are on disk.
func (p *Producer) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	retina, err := p.BuildRetina(ctx)
	if err != nil {
		return err
	}
	p.phaseDone(1)

	standard, err := p.BuildStandard(ctx, retina)
	if err != nil {
		return err
	}
	p.phaseDone(2)

	if err := p.WritePartial(retina, standard); err != nil {
		return err
	}
	p.logger.Info(ctx, "sprites generated", "tiles", len(retina.Tiles),
		"retina", fmt.Sprintf("%dx%d", retina.Width, retina.Height),
		"standard", fmt.Sprintf("%dx%d", standard.Width, standard.Height))
	return nil
}

func (p *Producer) phaseDone(phase int) {
	if p.onPhase != nil {
		p.onPhase(phase)
	}
}

var unsafeName = regexp.MustCompile(`[^a-z0-9_-]+`)

func tileName(file string) string {
	base := strings.TrimSuffix(path.Base(file), path.Ext(file))
	return strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(base), "-"), "-")
}

func (p *Producer) path(rel string) string {
	return filepath.Join(p.cfg.SourceDir, filepath.FromSlash(rel))
}

// BuildRetina packs the source tiles and writes the double-resolution sheet.
func (p *Producer) BuildRetina(ctx context.Context) (*Sheet, error) {
	files, err := p.cfg.Pattern.Expand(p.cfg.SourceDir)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeFilesystem, "expand sprite sources", err)
	}

	sheet := &Sheet{Image: p.cfg.RetinaImage}
	images := make([]image.Image, 0, len(files))
	sizes := make([]Size, 0, len(files))
	sources := make(map[string]string, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := tileName(f)
		if prev, ok := sources[name]; ok {
			return nil, errs.NewBuildError(errs.ErrCodeTransformFailed,
				fmt.Sprintf("sprites %q and %q both map to the name %q", prev, f, name), nil).
				WithLocation(p.path(f), 0)
		}
		sources[name] = f

		img, err := decodePNG(p.path(f))
		if err != nil {
			return nil, err
		}
		b := img.Bounds()
		images = append(images, img)
		sizes = append(sizes, Size{W: b.Dx(), H: b.Dy()})
		sheet.Tiles = append(sheet.Tiles, Tile{Name: name, Source: f})
	}
	if len(images) == 0 {
		return sheet, nil
	}

	rects, w, h := Pack(sizes, p.cfg.Padding)
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i, img := range images {
		r := rects[i]
		sheet.Tiles[i].Rect = r
		draw.Draw(canvas, image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H), img, img.Bounds().Min, draw.Src)
	}
	sheet.Width, sheet.Height = w, h

	if err := writePNG(p.path(p.cfg.RetinaImage), canvas); err != nil {
		return nil, err
	}
	return sheet, nil
}

// BuildStandard reads the retina sheet back from disk, crops each tile,
// halves it into the scratch directory, and assembles the half-size sheet
// from the scratch tiles.
func (p *Producer) BuildStandard(ctx context.Context, retina *Sheet) (*Sheet, error) {
	sheet := &Sheet{Image: p.cfg.Image, Width: retina.Width / 2, Height: retina.Height / 2}
	if len(retina.Tiles) == 0 {
		return sheet, nil
	}

	src, err := decodePNG(p.path(p.cfg.RetinaImage))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0o755); err != nil {
		return nil, errs.NewIOError(errs.ErrCodeFilesystem, "create sprite scratch directory", err)
	}

	scratch := make([]string, len(retina.Tiles))
	for i, t := range retina.Tiles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		crop := image.Rect(t.X, t.Y, t.X+t.W, t.Y+t.H)
		half := image.NewNRGBA(image.Rect(0, 0, (t.W+1)/2, (t.H+1)/2))
		draw.CatmullRom.Scale(half, half.Bounds(), src, crop, draw.Src, nil)

		scratch[i] = filepath.Join(p.cfg.TempDir, fmt.Sprintf("%03d-%s.png", i, t.Name))
		if err := writePNG(scratch[i], half); err != nil {
			return nil, err
		}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, sheet.Width, sheet.Height))
	for i, t := range retina.Tiles {
		tile, err := decodePNG(scratch[i])
		if err != nil {
			return nil, err
		}
		b := tile.Bounds()
		r := Rect{X: t.X / 2, Y: t.Y / 2, W: b.Dx(), H: b.Dy()}
		draw.Draw(canvas, image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H), tile, b.Min, draw.Src)
		sheet.Tiles = append(sheet.Tiles, Tile{Name: t.Name, Source: filepath.ToSlash(scratch[i]), Rect: r})
	}

	if err := writePNG(p.path(p.cfg.Image), canvas); err != nil {
		return nil, err
	}
	return sheet, nil
}

// WritePartial renders the stylesheet partial describing both sheets.
func (p *Producer) WritePartial(retina, standard *Sheet) error {
	tmpl, err := p.loadTemplate()
	if err != nil {
		return err
	}

	data := TemplateData{Retina: *retina, Standard: *standard}
	for _, t := range standard.Tiles {
		data.Sprites = append(data.Sprites, Entry{
			Name:        t.Name,
			X:           t.X,
			Y:           t.Y,
			OffsetX:     -t.X,
			OffsetY:     -t.Y,
			Width:       t.W,
			Height:      t.H,
			TotalWidth:  standard.Width,
			TotalHeight: standard.Height,
			Image:       standard.Image,
			RetinaImage: retina.Image,
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "render sprite partial", err)
	}
	return writeFile(p.path(p.cfg.Partial), buf.Bytes())
}

func (p *Producer) loadTemplate() (*template.Template, error) {
	text := defaultTemplate
	name := "sprites"
	if p.cfg.Template != "" {
		data, err := os.ReadFile(p.cfg.Template)
		switch {
		case err == nil:
			text, name = string(data), filepath.Base(p.cfg.Template)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, errs.NewIOError(errs.ErrCodeFilesystem, "read sprite template", err)
		}
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, errs.NewBuildError(errs.ErrCodeTransformFailed, "parse sprite template", err).
			WithLocation(p.cfg.Template, 0)
	}
	return tmpl, nil
}

func decodePNG(file string) (image.Image, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errs.NewIOError(errs.ErrCodeFilesystem, "open sprite image", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, errs.NewBuildError(errs.ErrCodeTransformFailed, "decode sprite image", err).
			WithLocation(file, 0)
	}
	return img, nil
}

func writePNG(file string, img image.Image) error {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "encode sprite sheet", err)
	}
	return writeFile(file, buf.Bytes())
}

func writeFile(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "create output directory", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "write sprite output", err)
	}
	return nil
}
