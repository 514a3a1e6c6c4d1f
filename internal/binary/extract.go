package binary

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ZebulonRouseFrantzich/buckle/internal/cache"
)

// Extractor unpacks one archive into a directory.
type Extractor interface {
	Extract(archivePath, destDir string) error
}

// ErrUnsafePath is returned for archive members that would land outside
// the destination directory.
var ErrUnsafePath = errors.New("archive member escapes destination")

// NewExtractor returns the codec for packageType. binaryPath is where
// single-file codecs write the executable, relative to the destination.
func NewExtractor(packageType PackageType, binaryPath string) (Extractor, error) {
	switch packageType {
	case PackageSingleFile:
		return &singleFileExtractor{target: binaryPath, open: passthrough}, nil
	case PackageZstdSingleFile:
		return &singleFileExtractor{target: binaryPath, open: openZstd}, nil
	case PackageGzipSingleFile:
		return &singleFileExtractor{target: binaryPath, open: openGzip}, nil
	case PackageTar:
		return &tarExtractor{open: passthrough}, nil
	case PackageTarGz:
		return &tarExtractor{open: openGzip}, nil
	case PackageTarZst:
		return &tarExtractor{open: openZstd}, nil
	case PackageTarLz4:
		return &tarExtractor{open: openLz4}, nil
	case PackageZip:
		return zipExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown package type %q", packageType)
	}
}

// InferPackageType guesses the codec from an archive file name.
func InferPackageType(archiveName string) PackageType {
	name := strings.ToLower(archiveName)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return PackageTarGz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return PackageTarZst
	case strings.HasSuffix(name, ".tar.lz4"):
		return PackageTarLz4
	case strings.HasSuffix(name, ".tar"):
		return PackageTar
	case strings.HasSuffix(name, ".zip"):
		return PackageZip
	case strings.HasSuffix(name, ".zst"):
		return PackageZstdSingleFile
	case strings.HasSuffix(name, ".gz"):
		return PackageGzipSingleFile
	default:
		return PackageSingleFile
	}
}

type openFunc func(io.Reader) (io.ReadCloser, error)

func passthrough(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func openGzip(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return gz, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	return zstdReadCloser{dec}, nil
}

func openLz4(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// singleFileExtractor decompresses the archive into one executable.
type singleFileExtractor struct {
	target string
	open   openFunc
}

func (e *singleFileExtractor) Extract(archivePath, destDir string) error {
	if e.target == "" {
		return errors.New("single-file package needs a binary path")
	}
	target, err := safeJoin(destDir, e.target)
	if err != nil {
		return err
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return &cache.CacheError{Op: "open", Path: archivePath, Err: err}
	}
	defer archiveFile.Close()

	r, err := e.open(archiveFile)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &cache.CacheError{Op: "create parent dir", Path: target, Err: err}
	}
	return writeFile(target, r, 0o755)
}

// tarExtractor unpacks a possibly compressed tar stream.
type tarExtractor struct {
	open openFunc
}

func (e *tarExtractor) Extract(archivePath, destDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return &cache.CacheError{Op: "open", Path: archivePath, Err: err}
	}
	defer archiveFile.Close()

	r, err := e.open(archiveFile)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &cache.CacheError{Op: "create dest dir", Path: destDir, Err: err}
	}

	tarReader := tar.NewReader(r)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %w", ErrUnsafePath, err)
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		if target == filepath.Clean(destDir) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &cache.CacheError{Op: "create directory", Path: target, Err: err}
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &cache.CacheError{Op: "create parent dir", Path: target, Err: err}
			}
			if err := writeFile(target, tarReader, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := makeSymlink(destDir, target, header.Linkname); err != nil {
				return err
			}

		case tar.TypeLink:
			source, err := safeJoin(destDir, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &cache.CacheError{Op: "create parent dir", Path: target, Err: err}
			}
			if err := os.Link(source, target); err != nil {
				return &cache.CacheError{Op: "create hard link", Path: target, Err: err}
			}

		default:
			// Skip other types (char devices, block devices, etc.)
			continue
		}
	}
}

// zipExtractor unpacks a zip archive.
type zipExtractor struct{}

func (zipExtractor) Extract(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return &cache.CacheError{Op: "create dest dir", Path: destDir, Err: err}
	}

	for _, f := range zr.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if target == filepath.Clean(destDir) {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &cache.CacheError{Op: "create directory", Path: target, Err: err}
			}

		case mode&os.ModeSymlink != 0:
			linkname, err := readZipMember(f, 4096)
			if err != nil {
				return err
			}
			if err := makeSymlink(destDir, target, linkname); err != nil {
				return err
			}

		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &cache.CacheError{Op: "create parent dir", Path: target, Err: err}
			}
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open zip member %s: %w", f.Name, err)
			}
			perm := mode.Perm()
			if perm == 0 {
				perm = 0o644
			}
			err = writeFile(target, rc, perm)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func readZipMember(f *zip.File, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open zip member %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return "", fmt.Errorf("read zip member %s: %w", f.Name, err)
	}
	return string(data), nil
}

// safeJoin resolves an archive member name under destDir, rejecting
// absolute names and any name that climbs out of it.
func safeJoin(destDir, name string) (string, error) {
	cleanDest := filepath.Clean(destDir)
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(cleanDest, filepath.FromSlash(name))
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// makeSymlink creates target -> linkname after checking that the link
// resolves inside destDir.
func makeSymlink(destDir, target, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, linkname)
	}
	resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(linkname))
	cleanDest := filepath.Clean(destDir)
	if resolved != cleanDest && !strings.HasPrefix(resolved, cleanDest+string(os.PathSeparator)) {
		return fmt.Errorf("%w: symlink %s -> %s", ErrUnsafePath, target, linkname)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &cache.CacheError{Op: "create parent dir", Path: target, Err: err}
	}
	if err := os.Symlink(linkname, target); err != nil {
		return &cache.CacheError{Op: "create symlink", Path: target, Err: err}
	}
	return nil
}

// writeFile copies r to target. Local failures are *cache.CacheError; a
// failed read is the archive's fault.
func writeFile(target string, r io.Reader, perm os.FileMode) error {
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &cache.CacheError{Op: "create", Path: target, Err: err}
	}
	w := &fileWriter{f: outFile}
	if _, err := io.Copy(w, r); err != nil {
		outFile.Close()
		if w.err != nil {
			return &cache.CacheError{Op: "write", Path: target, Err: w.err}
		}
		return fmt.Errorf("read archive member %s: %w", target, err)
	}
	if err := outFile.Close(); err != nil {
		return &cache.CacheError{Op: "close", Path: target, Err: err}
	}
	// The umask may have cleared execute bits.
	if err := os.Chmod(target, perm); err != nil {
		return &cache.CacheError{Op: "chmod", Path: target, Err: err}
	}
	return nil
}
