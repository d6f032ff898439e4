// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. The official MinIO Go
// client also works with Ceph, SeaweedFS and Garage.
//
// # Basic Usage
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	}, "my-bucket", "archives/")
//
//	report, err := archive.Export(ctx, lib, store, "main")
//
// NewStore accepts an already configured *minio.Client.
package minio
