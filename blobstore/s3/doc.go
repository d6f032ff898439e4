// Package s3 provides S3 implementations of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("archives/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
//	report, err := archive.Export(ctx, lib, store, "main")
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads with CRC32C checksums for large items
//   - Automatic pagination for listing
//   - Conditional creates on S3 Express directory buckets
//   - DynamoDB-serialized CURRENT pointers for concurrent exporters
package s3
