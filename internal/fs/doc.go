// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, temp files, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (failed writes, syncs, renames)
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.CreateTemp(dir, ".item-*.tmp")
//
// Tests can inject [FaultyFS] to simulate a crash between temp-file creation
// and the final rename:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".ndat", fs.Fault{FailOnRename: true})
//	// inject ffs into the storage handler under test
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Filesystem operations are non-interruptible at the syscall level, and an
// in-flight item write must always run to completion or failure.
package fs
