// Package blobstore provides the storage abstraction used to move libraries
// between machines.
//
// BlobStore is the interface for reading and writing named, immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with atomic writes and mmap reads
//   - MemoryStore: In-process map, for tests and staging
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - s3.ExpressStore: S3 Express One Zone with conditional creates
//   - s3.DDBCommitStore: S3 plus DynamoDB for serialized CURRENT commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs that implement RangeReader are streamed by ReadAll. Stores that
// implement ConditionalPutter make PutIfNotExists atomic.
package blobstore
