package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// File is one archive member.
type File struct {
	Name string
	Body string
	Mode int64
	// Link makes the member a symlink to Link.
	Link string
	// Dir makes the member a directory.
	Dir bool
}

// TarBytes builds an uncompressed tar stream.
func TarBytes(t *testing.T, files []File) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		hdr := &tar.Header{Name: f.Name, Mode: f.Mode}
		switch {
		case f.Dir:
			hdr.Typeflag = tar.TypeDir
			if hdr.Mode == 0 {
				hdr.Mode = 0o755
			}
		case f.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = f.Link
			hdr.Mode = 0o777
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(f.Body))
			if hdr.Mode == 0 {
				hdr.Mode = 0o644
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", f.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(f.Body)); err != nil {
				t.Fatalf("write tar body %s: %v", f.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

// Gzip compresses data.
func Gzip(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// Zstd compresses data.
func Zstd(t *testing.T, data []byte) []byte {
	t.Helper()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

// Lz4 compresses data as an lz4 frame.
func Lz4(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	if _, err := io.Copy(lw, bytes.NewReader(data)); err != nil {
		t.Fatalf("lz4: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("lz4 close: %v", err)
	}
	return buf.Bytes()
}

// TarGz builds a gzip-compressed tar.
func TarGz(t *testing.T, files []File) []byte {
	t.Helper()
	return Gzip(t, TarBytes(t, files))
}

// TarZst builds a zstd-compressed tar.
func TarZst(t *testing.T, files []File) []byte {
	t.Helper()
	return Zstd(t, TarBytes(t, files))
}

// TarLz4 builds an lz4-compressed tar.
func TarLz4(t *testing.T, files []File) []byte {
	t.Helper()
	return Lz4(t, TarBytes(t, files))
}

// Zip builds a zip archive.
func Zip(t *testing.T, files []File) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.Name, Method: zip.Deflate}
		body := f.Body
		switch {
		case f.Dir:
			if !strings.HasSuffix(hdr.Name, "/") {
				hdr.Name += "/"
			}
			hdr.SetMode(os.ModeDir | 0o755)
		case f.Link != "":
			hdr.SetMode(os.ModeSymlink | 0o777)
			body = f.Link
		default:
			mode := os.FileMode(f.Mode)
			if mode == 0 {
				mode = 0o644
			}
			hdr.SetMode(mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("zip header %s: %v", f.Name, err)
		}
		if !f.Dir {
			if _, err := w.Write([]byte(body)); err != nil {
				t.Fatalf("zip body %s: %v", f.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// ExecutableScript returns a POSIX shell script that prints its arguments
// and exits with code.
func ExecutableScript(output string, code int) string {
	return "#!/bin/sh\n" +
		"echo \"" + output + " $*\"\n" +
		"exit " + strconv.Itoa(code) + "\n"
}
