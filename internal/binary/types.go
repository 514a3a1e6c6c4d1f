package binary

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a FetchError.
type ErrorKind int

const (
	// KindNetwork covers connection, DNS, TLS and timeout failures. These
	// are the only failures retried.
	KindNetwork ErrorKind = iota
	// KindHTTP is a non-success status, e.g. a version/target combination
	// that was never published.
	KindHTTP
	// KindCorrupt means the archive did not decompress or unpack cleanly.
	KindCorrupt
	// KindVerify means a checksum or signature did not match.
	KindVerify
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindCorrupt:
		return "corrupt"
	case KindVerify:
		return "verify"
	default:
		return "unknown"
	}
}

var (
	// ErrInsecureURL is returned for plain http URLs that do not point at
	// a loopback host.
	ErrInsecureURL = errors.New("refusing non-HTTPS URL")
	// ErrChecksumMismatch is returned when an archive digest differs from
	// the published one.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// FetchError reports a failure while retrieving or unpacking an archive.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTP:
		if e.StatusCode != 0 {
			return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
		}
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	case KindCorrupt:
		return fmt.Sprintf("unpack %s: %v", e.URL, e.Err)
	case KindVerify:
		return fmt.Sprintf("verify %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// PackageType names an archive codec.
type PackageType string

const (
	PackageSingleFile     PackageType = "single_file"
	PackageZstdSingleFile PackageType = "zstd_single_file"
	PackageGzipSingleFile PackageType = "gzip_single_file"
	PackageTar            PackageType = "tar"
	PackageTarGz          PackageType = "tar_gz"
	PackageTarZst         PackageType = "tar_zst"
	PackageTarLz4         PackageType = "tar_lz4"
	PackageZip            PackageType = "zip"
)

// PackageTypes lists every supported codec.
var PackageTypes = []PackageType{
	PackageSingleFile,
	PackageZstdSingleFile,
	PackageGzipSingleFile,
	PackageTar,
	PackageTarGz,
	PackageTarZst,
	PackageTarLz4,
	PackageZip,
}

// Valid reports whether p names a supported codec.
func (p PackageType) Valid() bool {
	for _, known := range PackageTypes {
		if p == known {
			return true
		}
	}
	return false
}
