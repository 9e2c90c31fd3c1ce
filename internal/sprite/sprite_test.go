package sprite

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob/globtest"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

func overlaps(a, b Rect) bool {
	return a.X < b.X+b.W && b.X < a.X+a.W && a.Y < b.Y+b.H && b.Y < a.Y+a.H
}

func TestPack(t *testing.T) {
	sizes := []Size{{32, 32}, {15, 9}, {64, 20}, {7, 7}, {20, 64}, {1, 1}}
	rects, w, h := Pack(sizes, 2)

	require.Len(t, rects, len(sizes))
	assert.Zero(t, w%2)
	assert.Zero(t, h%2)
	for i, r := range rects {
		assert.Equal(t, sizes[i].W, r.W, "tile %d keeps its width", i)
		assert.Equal(t, sizes[i].H, r.H, "tile %d keeps its height", i)
		assert.Zero(t, r.X%2, "tile %d x", i)
		assert.Zero(t, r.Y%2, "tile %d y", i)
		assert.LessOrEqual(t, r.X+r.W, w)
		assert.LessOrEqual(t, r.Y+r.H, h)
		for j := i + 1; j < len(rects); j++ {
			assert.False(t, overlaps(r, rects[j]), "tiles %d and %d overlap", i, j)
		}
	}
}

func TestPackEmpty(t *testing.T) {
	rects, w, h := Pack(nil, 2)
	assert.Empty(t, rects)
	assert.Zero(t, w)
	assert.Zero(t, h)
}

func writeSolidPNG(t *testing.T, file string, w, h int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	f, err := os.Create(file)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

func readPNG(t *testing.T, file string) image.Image {
	t.Helper()
	f, err := os.Open(file)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

// scratchTile finds the single scratch file written for the named tile.
func scratchTile(t *testing.T, dir, name string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*-"+name+".png"))
	require.NoError(t, err)
	require.Len(t, matches, 1, name)
	return matches[0]
}

func fixture(t *testing.T) (Config, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "source", "assets")
	sprites := filepath.Join(src, "images", "sprites")
	writeSolidPNG(t, filepath.Join(sprites, "arrow.png"), 32, 32, color.NRGBA{255, 0, 0, 255})
	writeSolidPNG(t, filepath.Join(sprites, "Close Icon.png"), 20, 12, color.NRGBA{0, 0, 255, 255})
	writeSolidPNG(t, filepath.Join(sprites, "dot.png"), 9, 9, color.NRGBA{0, 255, 0, 255})

	return Config{
		SourceDir:   src,
		Pattern:     globtest.New(t, "images/sprites/*.png"),
		RetinaImage: "images/sprites-2x.png",
		Image:       "images/sprites-1x.png",
		Partial:     "stylesheets/variables/_sprites.scss",
		TempDir:     filepath.Join(root, "temp", "sprites"),
		Template:    filepath.Join(root, ".sprites-template"),
		Padding:     2,
	}, root
}

func TestProduceWritesBothSheetsInOrder(t *testing.T) {
	cfg, _ := fixture(t)
	p := New(cfg, nil)

	var phases []int
	p.OnPhase(func(phase int) {
		phases = append(phases, phase)
		switch phase {
		case 1:
			assert.FileExists(t, filepath.Join(cfg.SourceDir, cfg.RetinaImage))
			assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.Image))
			assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.Partial))
		case 2:
			assert.FileExists(t, filepath.Join(cfg.SourceDir, cfg.Image))
			assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.Partial))
		}
	})

	require.NoError(t, p.Produce(context.Background(), pipeline.NewBuildContext(false, false)))
	assert.Equal(t, []int{1, 2}, phases)

	retina := readPNG(t, filepath.Join(cfg.SourceDir, cfg.RetinaImage))
	standard := readPNG(t, filepath.Join(cfg.SourceDir, cfg.Image))
	assert.Equal(t, retina.Bounds().Dx()/2, standard.Bounds().Dx())
	assert.Equal(t, retina.Bounds().Dy()/2, standard.Bounds().Dy())

	// Scratch tiles are half size.
	arrow := readPNG(t, scratchTile(t, cfg.TempDir, "arrow"))
	assert.Equal(t, image.Rect(0, 0, 16, 16), arrow.Bounds())
	dot := readPNG(t, scratchTile(t, cfg.TempDir, "dot"))
	assert.Equal(t, image.Rect(0, 0, 5, 5), dot.Bounds())

	partial, err := os.ReadFile(filepath.Join(cfg.SourceDir, cfg.Partial))
	require.NoError(t, err)
	assert.Contains(t, string(partial), "$sprite-arrow:")
	assert.Contains(t, string(partial), "$sprite-close-icon:")
	assert.Contains(t, string(partial), "$sprites-retina-image: 'images/sprites-2x.png';")
	assert.Contains(t, string(partial), "16px, 16px")
}

func TestStandardSheetMatchesRetinaLayout(t *testing.T) {
	cfg, _ := fixture(t)
	p := New(cfg, nil)

	retina, err := p.BuildRetina(context.Background())
	require.NoError(t, err)
	standard, err := p.BuildStandard(context.Background(), retina)
	require.NoError(t, err)

	img := readPNG(t, filepath.Join(cfg.SourceDir, cfg.Image))
	require.Len(t, standard.Tiles, len(retina.Tiles))
	for i, tile := range standard.Tiles {
		assert.Equal(t, retina.Tiles[i].X/2, tile.X)
		assert.Equal(t, retina.Tiles[i].Y/2, tile.Y)

		// Solid tiles keep their color at the center after halving.
		want := readPNG(t, filepath.Join(cfg.SourceDir, retina.Tiles[i].Source)).At(0, 0)
		got := img.At(tile.X+tile.W/2, tile.Y+tile.H/2)
		wr, wg, wb, _ := want.RGBA()
		gr, gg, gb, _ := got.RGBA()
		assert.Equal(t, [3]uint32{wr >> 8, wg >> 8, wb >> 8}, [3]uint32{gr >> 8, gg >> 8, gb >> 8}, tile.Name)
	}
}

func TestPartialTemplateOverride(t *testing.T) {
	cfg, _ := fixture(t)
	require.NoError(t, os.WriteFile(cfg.Template,
		[]byte("{{range .Sprites}}{{.Name}}={{.Width}}x{{.Height}}\n{{end}}"), 0o644))

	require.NoError(t, New(cfg, nil).Produce(context.Background(), pipeline.NewBuildContext(false, false)))
	partial, err := os.ReadFile(filepath.Join(cfg.SourceDir, cfg.Partial))
	require.NoError(t, err)
	assert.Contains(t, string(partial), "arrow=16x16\n")
	assert.Contains(t, string(partial), "close-icon=10x6\n")
}

func TestBrokenTemplateIsTransformFailure(t *testing.T) {
	cfg, _ := fixture(t)
	require.NoError(t, os.WriteFile(cfg.Template, []byte("{{range .Sprites}"), 0o644))

	err := New(cfg, nil).Produce(context.Background(), pipeline.NewBuildContext(false, false))
	require.Error(t, err)
	assert.True(t, errs.IsBuildError(err))
	assert.False(t, errs.IsFilesystemFault(err))
}

func TestInvalidSourceImage(t *testing.T) {
	cfg, _ := fixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SourceDir, "images", "sprites", "bad.png"), []byte("not a png"), 0o644))

	err := New(cfg, nil).Produce(context.Background(), pipeline.NewBuildContext(false, false))
	require.Error(t, err)
	assert.True(t, errs.IsBuildError(err))
	assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.RetinaImage))
}

func TestCollidingTileNamesAreRejected(t *testing.T) {
	cfg, _ := fixture(t)
	writeSolidPNG(t, filepath.Join(cfg.SourceDir, "images", "sprites", "close-icon.png"), 20, 12, color.NRGBA{255, 255, 0, 255})

	err := New(cfg, nil).Produce(context.Background(), pipeline.NewBuildContext(false, false))
	require.Error(t, err)
	assert.True(t, errs.HasErrorCode(err, errs.ErrCodeTransformFailed))
	assert.Contains(t, err.Error(), "Close Icon.png")
	assert.Contains(t, err.Error(), "close-icon.png")
	assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.RetinaImage))
	assert.NoFileExists(t, filepath.Join(cfg.SourceDir, cfg.Partial))
}

func TestScratchTilesAreNamedByPosition(t *testing.T) {
	cfg, _ := fixture(t)
	p := New(cfg, nil)

	retina, err := p.BuildRetina(context.Background())
	require.NoError(t, err)
	standard, err := p.BuildStandard(context.Background(), retina)
	require.NoError(t, err)

	for i, tile := range standard.Tiles {
		assert.Equal(t, fmt.Sprintf("%03d-%s.png", i, tile.Name), filepath.Base(tile.Source))
	}
}

func TestNoSourcesStillWritesPartial(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		SourceDir:   root,
		Pattern:     globtest.New(t, "images/sprites/*.png"),
		RetinaImage: "images/sprites-2x.png",
		Image:       "images/sprites-1x.png",
		Partial:     "stylesheets/_sprites.scss",
		TempDir:     filepath.Join(root, "temp"),
	}
	require.NoError(t, New(cfg, nil).Produce(context.Background(), pipeline.NewBuildContext(false, false)))

	assert.FileExists(t, filepath.Join(root, cfg.Partial))
	assert.NoFileExists(t, filepath.Join(root, cfg.RetinaImage))
}
