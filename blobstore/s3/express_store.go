package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/ndstore/blobstore"
)

// ExpressStore implements blobstore.BlobStore for S3 Express One Zone.
//
// Directory buckets (names ending in --azid--x-s3) support conditional
// writes, so PutIfNotExists is atomic across writers. Archives use it to
// claim listing names.
type ExpressStore struct {
	*Store
}

var _ blobstore.ConditionalPutter = (*ExpressStore)(nil)

// NewExpressStore creates a new S3 Express One Zone blob store.
func NewExpressStore(client Client, bucket, rootPrefix string, optFns ...Option) *ExpressStore {
	return &ExpressStore{Store: NewStore(client, bucket, rootPrefix, optFns...)}
}

// PutIfNotExists writes a blob only if its name is free.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	key := s.ks.key(name)
	err := putObject(ctx, s.client, s.cfg, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		IfNoneMatch: aws.String("*"),
	}, data)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return fmt.Errorf("%w: %s", blobstore.ErrConflict, key)
			}
		}
		return err
	}
	return nil
}
