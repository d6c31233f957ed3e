package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

type link struct {
	linkType byte
	oldName  string
	newName  string
}

// untar writes the entries of a tar stream below destDir. Links are created after every regular file so hard
// links always find their source.
func untar(ctx context.Context, reader io.Reader, destDir string, overwrite bool) error {
	var links []*link

	startTime := time.Now()
	tarReader := tar.NewReader(reader)
	logger := logging.GetLogger()

	logger.Debug().
		Str("extractor", "tar").
		Str("status", "starting").
		Msg("Extract")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			logger.Debug().
				Str("target", target).
				Str("perms", fmt.Sprintf("%o", header.Mode)).
				Msg("Tar: Directory")
			if err := os.MkdirAll(target, cleanFileMode(os.FileMode(header.Mode).Perm())|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			logger.Debug().
				Str("target", target).
				Str("perms", fmt.Sprintf("%o", header.Mode)).
				Msg("Tar: File")
			if err := writeFile(target, tarReader, os.FileMode(header.Mode), overwrite); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, header.Name, header.Linkname)
			}
			if !within(destDir, filepath.Join(filepath.Dir(target), header.Linkname)) {
				return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, header.Name, header.Linkname)
			}
			links = append(links, &link{linkType: header.Typeflag, oldName: header.Linkname, newName: target})
		case tar.TypeLink:
			oldPath, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return err
			}
			links = append(links, &link{linkType: header.Typeflag, oldName: oldPath, newName: target})
		default:
			logger.Warn().Str("entry", header.Name).Str("typeflag", string(header.Typeflag)).Msg("Tar: skipping unsupported entry")
		}
	}

	if err := createLinks(links, overwrite); err != nil {
		return fmt.Errorf("error creating links: %w", err)
	}

	logger.Debug().
		Str("extractor", "tar").
		Float64("elapsed_time", time.Since(startTime).Seconds()).
		Str("status", "complete").
		Msg("Extract")
	return nil
}

func createLinks(links []*link, overwrite bool) error {
	logger := logging.GetLogger()
	for _, link := range links {
		if err := os.MkdirAll(filepath.Dir(link.newName), 0o755); err != nil {
			return err
		}
		if overwrite {
			if err := os.Remove(link.newName); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("error removing existing file: %w", err)
			}
		}
		switch link.linkType {
		case tar.TypeLink:
			logger.Debug().
				Str("old_path", link.oldName).
				Str("new_path", link.newName).
				Msg("Tar: creating hard link")
			if err := os.Link(link.oldName, link.newName); err != nil {
				return fmt.Errorf("error creating hard link from %s to %s: %w", link.oldName, link.newName, err)
			}
		case tar.TypeSymlink:
			logger.Debug().
				Str("old_path", link.oldName).
				Str("new_path", link.newName).
				Msg("Tar: creating symlink")
			if err := os.Symlink(link.oldName, link.newName); err != nil {
				return fmt.Errorf("error creating symlink from %s to %s: %w", link.oldName, link.newName, err)
			}
		default:
			return fmt.Errorf("unsupported link type %s", string(link.linkType))
		}
	}
	return nil
}
