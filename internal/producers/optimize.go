package producers

import (
	"bytes"
	"context"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/glob"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

// JPEG qualities per build mode.
const (
	jpegQualityProduction  = 82
	jpegQualityDevelopment = 90
)

// Optimizer re-encodes images into the output directory and keeps whichever
// of the original and the re-encoded bytes is smaller.
type Optimizer struct {
	srcDir  string
	pattern *glob.Pattern
	destDir string
	logger  logging.Logger
	written outputLedger
}

func NewOptimizer(srcDir string, pattern *glob.Pattern, destDir string, logger logging.Logger) *Optimizer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Optimizer{srcDir: srcDir, pattern: pattern, destDir: destDir, logger: logger.WithComponent("optimize")}
}

func (o *Optimizer) Name() string      { return "optimize" }
func (o *Optimizer) Outputs() []string { return []string{o.destDir} }

// Optimized reports whether rel was written by the optimizer during the run
// bc belongs to. It is the image copy producer's skip predicate.
func (o *Optimizer) Optimized(bc pipeline.BuildContext, rel string) bool {
	return o.written.has(bc.Invocation(), rel)
}

func (o *Optimizer) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	o.written.reset(bc.Invocation())

	files, err := o.pattern.Expand(o.srcDir)
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "expand "+o.pattern.String(), err)
	}

	var before, after int64
	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		src, err := os.ReadFile(filepath.Join(o.srcDir, filepath.FromSlash(f)))
		if err != nil {
			return errs.NewIOError(errs.ErrCodeFilesystem, "read image", err)
		}
		out, err := optimizeImage(f, src, bc.Production())
		if err != nil {
			return errs.NewBuildError(errs.ErrCodeTransformFailed, "optimize image", err).WithLocation(f, 0)
		}
		if len(out) >= len(src) {
			out = src
		}

		rel := o.pattern.Rel(f)
		if err := writeFile(filepath.Join(o.destDir, filepath.FromSlash(rel)), out); err != nil {
			return err
		}
		o.written.add(bc.Invocation(), rel)
		before += int64(len(src))
		after += int64(len(out))
	}

	o.logger.Info(ctx, "images optimized", "files", len(files), "bytes_before", before, "bytes_after", after, "mode", bc.Mode())
	return nil
}

// optimizeImage re-encodes src according to its extension. Unknown formats
// are returned unchanged.
func optimizeImage(name string, src []byte, production bool) ([]byte, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		img, err := png.Decode(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if production {
			enc.CompressionLevel = png.BestCompression
		}
		var buf bytes.Buffer
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case ".jpg", ".jpeg":
		img, err := jpeg.Decode(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		quality := jpegQualityDevelopment
		if production {
			quality = jpegQualityProduction
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	case ".svg":
		return MinifySVG(src)
	}
	return src, nil
}
