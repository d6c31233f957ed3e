package extract

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

// unzip writes the entries of a zip archive below destDir.
func unzip(ctx context.Context, reader io.ReaderAt, size int64, destDir string, overwrite bool) error {
	logger := logging.GetLogger()
	startTime := time.Now()

	zipReader, err := zip.NewReader(reader, size)
	if err != nil {
		return fmt.Errorf("error creating zip reader: %w", err)
	}

	for _, file := range zipReader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		mode := file.FileInfo().Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, cleanFileMode(mode.Perm())|0o700); err != nil {
				return fmt.Errorf("error creating directory: %w", err)
			}
		case mode.IsRegular():
			if err := extractZipFile(file, target, overwrite); err != nil {
				return fmt.Errorf("error extracting %s: %w", file.Name, err)
			}
		default:
			logger.Warn().Str("entry", file.Name).Str("mode", mode.String()).Msg("Zip: skipping unsupported entry")
		}
	}

	logger.Debug().
		Str("extractor", "zip").
		Int("entries", len(zipReader.File)).
		Float64("elapsed_time", time.Since(startTime).Seconds()).
		Str("status", "complete").
		Msg("Extract")
	return nil
}

func extractZipFile(file *zip.File, target string, overwrite bool) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer src.Close()
	return writeFile(target, src, file.Mode(), overwrite)
}
