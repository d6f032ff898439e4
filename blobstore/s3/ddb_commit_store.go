package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/ndstore/blobstore"
)

// CurrentName is the pointer blob that DDBCommitStore keeps in DynamoDB.
const CurrentName = "CURRENT"

// DDBCommitStore implements blobstore.BlobStore backed by S3 with DynamoDB
// for atomic pointer commits. This makes concurrent exporters safe.
//
// Every blob whose base name is CURRENT is a pointer: writing it appends a
// new version to DynamoDB with a conditional put, reading it returns the
// latest version. All other blobs go to S3 unchanged.
//
// Table schema:
//   - Partition key: base_uri (string) - base URI plus the pointer's directory
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name ndstore-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.BlobStore = (*DDBCommitStore)(nil)

// DDBClient is the subset of the DynamoDB API used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentModification is returned when another writer committed the
// same pointer version first. It matches blobstore.ErrConflict.
var ErrConcurrentModification = fmt.Errorf("concurrent modification detected: %w", blobstore.ErrConflict)

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI (e.g. "s3://bucket/prefix") is the partition key namespace.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func (s *DDBCommitStore) pointer(name string) (string, bool) {
	if path.Base(name) != CurrentName {
		return "", false
	}
	dir := path.Dir(name)
	if dir == "." || dir == "/" {
		return s.baseURI, true
	}
	return s.baseURI + "#" + dir, true
}

// Open opens a blob for reading. Pointers are served from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if uri, ok := s.pointer(name); ok {
		version, target, err := s.latest(ctx, uri)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, fmt.Errorf("%s: %w", name, blobstore.ErrNotFound)
		}
		return &pointerBlob{content: []byte(target)}, nil
	}
	return s.s3Store.Open(ctx, name)
}

// Put writes a blob. Pointers are committed with a conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if uri, ok := s.pointer(name); ok {
		return s.commit(ctx, uri, string(data))
	}
	return s.s3Store.Put(ctx, name, data)
}

// Delete deletes a blob. Pointer history is kept.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if _, ok := s.pointer(name); ok {
		return nil
	}
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix. Pointers are not listed.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latest queries DynamoDB for the newest committed version of uri.
func (s *DDBCommitStore) latest(ctx context.Context, uri string) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: uri},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", fmt.Errorf("query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	targetAttr, ok := item["target"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid target attribute in DynamoDB")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse version: %w", err)
	}
	return version, targetAttr.Value, nil
}

// commit appends the next version of uri. A writer that lost the race for
// that version gets ErrConcurrentModification.
func (s *DDBCommitStore) commit(ctx context.Context, uri, target string) error {
	current, _, err := s.latest(ctx, uri)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: uri},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"target":   &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("commit version: %w", err)
	}
	return nil
}

// pointerBlob serves the content of a committed pointer.
type pointerBlob struct {
	content []byte
}

func (b *pointerBlob) Close() error {
	return nil
}

func (b *pointerBlob) Size() int64 {
	return int64(len(b.content))
}

func (b *pointerBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
