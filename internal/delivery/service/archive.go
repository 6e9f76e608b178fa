package service

import (
	"archive/zip"
	"compress/flate"
	"context"
	"io"
	"os"

	deliverydomain "github.com/mixforge/mixforge/internal/delivery/domain"
	"go.uber.org/zap"
)

// deflateLevel trades compression for speed; variant video payloads are
// already encoded so higher levels buy almost nothing.
const deflateLevel = 6

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Stream writes the archive's files into w as a single ZIP. Files that have
// disappeared from disk are skipped with a warning; the archive fails only
// when nothing at all can be resolved, checked up front so no partial bytes
// reach the client.
func (s *Service) Stream(ctx context.Context, w io.Writer, archive deliverydomain.Archive) error {
	present := make([]int, 0, len(archive.Files))
	for i, f := range archive.Files {
		if _, err := os.Stat(f.Path); err != nil {
			s.log.Warn("output file missing on disk, skipping",
				zap.String("filename", f.Filename),
				zap.String("path", f.Path),
				zap.Error(err))
			continue
		}
		present = append(present, i)
	}
	if len(present) == 0 {
		return deliverydomain.ErrEmptyArchive
	}

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, deflateLevel)
	})

	for _, i := range present {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := archive.Files[i]
		if err := s.addFile(zw, f.Filename, f.Path); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AddArchiveBytes(cw.n)
	}
	return nil
}

func (s *Service) addFile(zw *zip.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		// Lost between the stat pass and here; keep streaming the rest.
		s.log.Warn("output file vanished mid-stream, skipping",
			zap.String("path", path), zap.Error(err))
		return nil
	}
	defer src.Close()

	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if info, err := src.Stat(); err == nil {
		hdr.Modified = info.ModTime()
	}
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
