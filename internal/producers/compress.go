package producers

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	errs "github.com/villasimius/sitebuild/internal/errors"
	"github.com/villasimius/sitebuild/internal/logging"
	"github.com/villasimius/sitebuild/internal/pipeline"
)

// Compress writes precompressed .gz and .br siblings for text assets.
type Compress struct {
	dir        string
	extensions []string
	brotli     bool
	workers    int
	logger     logging.Logger
}

// NewCompress creates the compress producer for dir. workers <= 0 uses one
// worker per CPU.
func NewCompress(dir string, extensions []string, withBrotli bool, workers int, logger logging.Logger) *Compress {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	exts := make([]string, len(extensions))
	for i, e := range extensions {
		exts[i] = strings.ToLower(e)
	}
	return &Compress{dir: dir, extensions: exts, brotli: withBrotli, workers: workers, logger: logger.WithComponent("compress")}
}

func (c *Compress) Name() string      { return "compress" }
func (c *Compress) Outputs() []string { return []string{c.dir} }

func (c *Compress) Produce(ctx context.Context, bc pipeline.BuildContext) error {
	var files []string
	err := filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && slices.Contains(c.extensions, strings.ToLower(filepath.Ext(p))) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "walk "+c.dir, err)
	}

	gzLevel, brLevel := gzip.DefaultCompression, 5
	if bc.Production() {
		gzLevel, brLevel = gzip.BestCompression, brotli.BestCompression
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return c.compressFile(f, gzLevel, brLevel)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.logger.Info(ctx, "assets precompressed", "files", len(files), "brotli", c.brotli, "mode", bc.Mode())
	return nil
}

func (c *Compress) compressFile(file string, gzLevel, brLevel int) error {
	src, err := os.ReadFile(file)
	if err != nil {
		return errs.NewIOError(errs.ErrCodeFilesystem, "read asset", err)
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzLevel)
	if err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "create gzip writer", err)
	}
	if err := writeAll(gw, src); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "gzip "+file, err)
	}
	if err := writeFile(file+".gz", buf.Bytes()); err != nil {
		return err
	}

	if !c.brotli {
		return nil
	}
	buf.Reset()
	if err := writeAll(brotli.NewWriterLevel(&buf, brLevel), src); err != nil {
		return errs.NewBuildError(errs.ErrCodeTransformFailed, "brotli "+file, err)
	}
	return writeFile(file+".br", buf.Bytes())
}

func writeAll(w io.WriteCloser, data []byte) error {
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
