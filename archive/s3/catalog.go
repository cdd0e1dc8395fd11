package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/branchfs/branchfs/archive"
	"github.com/branchfs/branchfs/core"
)

// Catalog records archived snapshots in a DynamoDB table so that a
// fleet of daemons sharing one bucket can discover each other's
// archives without listing the bucket.
//
// Table schema:
//   - Partition key: store_id (string) - identifies the backstore
//   - Sort key: snapshot_id (string) - the snapshot identifier
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name branchfs-snapshots \
//	  --attribute-definitions AttributeName=store_id,AttributeType=S AttributeName=snapshot_id,AttributeType=S \
//	  --key-schema AttributeName=store_id,KeyType=HASH AttributeName=snapshot_id,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type Catalog struct {
	client    DDBClient
	tableName string
	storeID   string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrEntryExists is returned when registering a snapshot that is
// already catalogued.
var ErrEntryExists = errors.New("catalog entry already exists")

// Entry describes one archived snapshot.
type Entry struct {
	Snapshot core.SnapshotID
	Name     string
	Key      string
	Archived time.Time
}

// NewCatalog creates a catalog over an existing DynamoDB table.
func NewCatalog(client DDBClient, tableName, storeID string) *Catalog {
	return &Catalog{
		client:    client,
		tableName: tableName,
		storeID:   storeID,
	}
}

// Register records an archived snapshot. A conditional write rejects
// duplicate registrations so two daemons cannot both claim the same
// snapshot identifier.
func (c *Catalog) Register(ctx context.Context, e Entry) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"store_id":    &types.AttributeValueMemberS{Value: c.storeID},
			"snapshot_id": &types.AttributeValueMemberS{Value: e.Snapshot.String()},
			"name":        &types.AttributeValueMemberS{Value: e.Name},
			"object_key":  &types.AttributeValueMemberS{Value: e.Key},
			"archived_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", e.Archived.UnixNano())},
		},
		ConditionExpression: aws.String("attribute_not_exists(snapshot_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrEntryExists
		}
		return fmt.Errorf("failed to register snapshot in DynamoDB: %w", err)
	}
	return nil
}

// Lookup returns the catalog entry for one snapshot.
func (c *Catalog) Lookup(ctx context.Context, id core.SnapshotID) (Entry, error) {
	resp, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"store_id":    &types.AttributeValueMemberS{Value: c.storeID},
			"snapshot_id": &types.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get catalog entry: %w", err)
	}
	if resp.Item == nil {
		return Entry{}, archive.ErrNotFound
	}
	return entryFromItem(resp.Item)
}

// Deregister removes a snapshot from the catalog. Removing an entry
// that does not exist is not an error.
func (c *Catalog) Deregister(ctx context.Context, id core.SnapshotID) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"store_id":    &types.AttributeValueMemberS{Value: c.storeID},
			"snapshot_id": &types.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete catalog entry: %w", err)
	}
	return nil
}

// Entries returns every catalogued snapshot for this store, sorted by
// archive time.
func (c *Catalog) Entries(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	var startKey map[string]types.AttributeValue
	for {
		resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("store_id = :sid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":sid": &types.AttributeValueMemberS{Value: c.storeID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog: %w", err)
		}
		for _, item := range resp.Items {
			e, err := entryFromItem(item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Archived.Before(entries[j].Archived) })
	return entries, nil
}

func entryFromItem(item map[string]types.AttributeValue) (Entry, error) {
	idAttr, ok := item["snapshot_id"].(*types.AttributeValueMemberS)
	if !ok {
		return Entry{}, errors.New("invalid snapshot_id attribute in DynamoDB")
	}
	keyAttr, ok := item["object_key"].(*types.AttributeValueMemberS)
	if !ok {
		return Entry{}, errors.New("invalid object_key attribute in DynamoDB")
	}
	var raw uint64
	if _, err := fmt.Sscanf(idAttr.Value, "snap-%d", &raw); err != nil {
		return Entry{}, fmt.Errorf("failed to parse snapshot_id %q: %w", idAttr.Value, err)
	}
	e := Entry{
		Snapshot: core.SnapshotID(raw),
		Key:      keyAttr.Value,
	}
	if nameAttr, ok := item["name"].(*types.AttributeValueMemberS); ok {
		e.Name = nameAttr.Value
	}
	if tsAttr, ok := item["archived_at"].(*types.AttributeValueMemberN); ok {
		var ns int64
		if _, err := fmt.Sscanf(tsAttr.Value, "%d", &ns); err != nil {
			return Entry{}, fmt.Errorf("failed to parse archived_at: %w", err)
		}
		e.Archived = time.Unix(0, ns)
	}
	return e, nil
}
