// Package storage writes finished acquisition artifacts to durable object
// storage.
//
// Backends guarantee that an object is either absent or complete: S3 relies on
// PutObject semantics, the filesystem backend writes a temp file in the target
// directory and renames it into place. Memory backs tests.
package storage
