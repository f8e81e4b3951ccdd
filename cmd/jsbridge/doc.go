// Command jsbridge runs JavaScript files in an embedded engine context and
// optionally serves the HTTP inspector.
//
// Usage:
//
//	jsbridge [flags] script.js|glob ...
//
// Scripts run in order in a single context. Arguments may be doublestar
// globs such as "lib/**/*.js". With -precompile each script is checked and
// a compressed artifact is written next to it; later runs use a matching
// artifact and fall back to the source when it is stale.
//
// Flags:
//   - -config: YAML or TOML file overlaid on the defaults
//   - -precompile: write artifacts instead of running
//   - -serve: start the inspector after the scripts finish
//   - -quiet: do not print the last value
//
// Environment variables prefixed with JSB_ override the file; see the
// config package.
package main
