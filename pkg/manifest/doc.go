// Package manifest describes the expected installed state of a content tree.
//
// A manifest is the authoritative list of files a synchronization run must
// produce under a target directory. Each entry names a final asset, the
// SHA-256 checksum of that asset, and the size and optional checksum of the
// zstd-compressed object it is fetched from.
//
// # Format
//
//	{
//	  "version": "1.4.2",
//	  "files": [
//	    {"name": "bin/game.exe", "checksum": "9f2c...", "size": 1048576, "compressed_checksum": "71ab..."},
//	    ...
//	  ]
//	}
//
// # Paths
//
// Entry names are slash-separated and relative to the target directory. The
// remote object for an entry is Name + [CompressedSuffix], and the compressed
// intermediate is written next to the final asset under the same suffix.
// [Manifest.Validate] rejects names that would resolve outside the target
// directory, and [Resolve] enforces the same rule when building paths.
package manifest
