// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams, format, and chapters
//   - Chapter: one chapter with decimal-second boundaries and tags
//
// Primary entry points:
//   - Inspect: runs ffprobe through a proc.Runner and returns parsed Result
//   - Parse: decodes previously captured ffprobe JSON
package ffprobe
