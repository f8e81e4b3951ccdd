// Package loader reads script sources and precompilation artifacts from
// disk for the command line runner.
//
// Sources are sniffed with mimetype so binary inputs are rejected before
// they reach the compiler. Text that is not valid UTF-8 has its charset
// detected with chardet and is decoded to UTF-8. A byte order mark always
// wins over detection.
//
// Script arguments may be doublestar globs:
//
//	paths, err := loader.Expand([]string{"scripts/**/*.js"})
//	for _, p := range paths {
//		src, err := loader.Read(p)
//		...
//	}
//
// Precompilation artifacts are stored zstd-compressed next to their
// script with the ArtifactExt suffix.
package loader
