package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentCommit is returned when another writer committed the same
// generation first.
var ErrConcurrentCommit = errors.New("s3: concurrent snapshot commit detected")

// DynamoDBClient captures the DynamoDB operations the commit log uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitLog records which snapshot blob is current for an index, using
// DynamoDB conditional writes for the compare-and-swap that S3 lacks.
// Writers upload a snapshot to S3 first, then Commit its key; readers
// call Latest and fetch the referenced blob.
//
// Table schema: partition key index_path (S), sort key generation (N).
type CommitLog struct {
	client    DynamoDBClient
	tableName string
	indexPath string
}

// NewCommitLog creates a commit log for the index stored under indexPath.
func NewCommitLog(client DynamoDBClient, tableName, indexPath string) *CommitLog {
	return &CommitLog{
		client:    client,
		tableName: tableName,
		indexPath: indexPath,
	}
}

// Latest returns the newest committed generation and its snapshot key.
// Generation 0 means nothing has been committed yet.
func (l *CommitLog) Latest(ctx context.Context) (uint64, string, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("index_path = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: l.indexPath},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: commit log query: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	genAttr, ok := item["generation"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: malformed generation attribute")
	}
	keyAttr, ok := item["snapshot_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: malformed snapshot_key attribute")
	}

	gen, err := strconv.ParseUint(genAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse generation: %w", err)
	}
	return gen, keyAttr.Value, nil
}

// Commit atomically records snapshotKey as the next generation. Returns
// the committed generation, or ErrConcurrentCommit if another writer got
// there first.
func (l *CommitLog) Commit(ctx context.Context, snapshotKey string) (uint64, error) {
	current, _, err := l.Latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item: map[string]types.AttributeValue{
			"index_path":   &types.AttributeValueMemberS{Value: l.indexPath},
			"generation":   &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"snapshot_key": &types.AttributeValueMemberS{Value: snapshotKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(generation)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentCommit
		}
		return 0, fmt.Errorf("s3: commit generation %d: %w", next, err)
	}
	return next, nil
}
