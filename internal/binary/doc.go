// Package binary fetches, verifies and unpacks tool archives into cache
// staging directories.
//
// # Failure model
//
// Every failure is a *FetchError with a Kind:
//   - KindNetwork: retried a bounded number of times with exponential backoff
//   - KindHTTP: non-success status, surfaced immediately
//   - KindCorrupt: decompression or unpack failure, staging discarded
//   - KindVerify: checksum or signature mismatch, never retried
//
// Nothing is ever written into a published cache entry directly. Downloads
// land in the staging handle's download directory and are extracted into
// the staging directory, which the cache then publishes with one rename.
//
// # Verification
//
// Verification is optional and configured per tool:
//   - a sha256 sums file (sha256sum format, or a bare digest)
//   - an OpenPGP detached signature checked against a keyring file
//
// # Usage
//
//	m := binary.NewMaterializer(binary.NewFetcher("buckle/1.0"), logger)
//	entry, fetched, err := m.Materialize(ctx, store, binary.Request{
//	    Key:         cache.NewKey("buck2", "2024-09-02", triple.Target),
//	    URL:         url,
//	    ArchiveName: "buck2-x86_64-unknown-linux-musl.zst",
//	    PackageType: binary.PackageZstdSingleFile,
//	    BinaryPath:  "buck2",
//	})
//
// # Architecture
//
//   - Materializer: lookup, lock, fetch, verify, extract, publish
//   - Fetcher: HTTP download with retry logic
//   - Verifier: sha256 and OpenPGP verification
//   - Extractor: archive codecs selected by PackageType
package binary
