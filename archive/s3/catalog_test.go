package s3

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/archive"
	"github.com/branchfs/branchfs/core"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue // key -> item
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func itemKey(store, snapshot string) string {
	return store + ":" + snapshot
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store := params.Item["store_id"].(*types.AttributeValueMemberS).Value
	snapshot := params.Item["snapshot_id"].(*types.AttributeValueMemberS).Value
	key := itemKey(store, snapshot)

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(snapshot_id)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	store := params.ExpressionAttributeValues[":sid"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["store_id"].(*types.AttributeValueMemberS).Value == store {
			items = append(items, item)
		}
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	store := params.Key["store_id"].(*types.AttributeValueMemberS).Value
	snapshot := params.Key["snapshot_id"].(*types.AttributeValueMemberS).Value

	if item, ok := m.items[itemKey(store, snapshot)]; ok {
		return &dynamodb.GetItemOutput{Item: item}, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store := params.Key["store_id"].(*types.AttributeValueMemberS).Value
	snapshot := params.Key["snapshot_id"].(*types.AttributeValueMemberS).Value
	delete(m.items, itemKey(store, snapshot))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(newMockDDBClient(), "branchfs-snapshots", "store-a")

	archived := time.Unix(0, 1700000000000000000)
	err := cat.Register(ctx, Entry{
		Snapshot: core.SnapshotID(1),
		Name:     "before-upgrade",
		Key:      "snapshots/snap-1.tar.zstd",
		Archived: archived,
	})
	require.NoError(t, err)

	got, err := cat.Lookup(ctx, core.SnapshotID(1))
	require.NoError(t, err)
	assert.Equal(t, core.SnapshotID(1), got.Snapshot)
	assert.Equal(t, "before-upgrade", got.Name)
	assert.Equal(t, "snapshots/snap-1.tar.zstd", got.Key)
	assert.True(t, got.Archived.Equal(archived))
}

func TestCatalog_DuplicateRegistration(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(newMockDDBClient(), "branchfs-snapshots", "store-a")

	e := Entry{Snapshot: core.SnapshotID(2), Key: "snapshots/snap-2.tar.zstd"}
	require.NoError(t, cat.Register(ctx, e))

	err := cat.Register(ctx, e)
	require.ErrorIs(t, err, ErrEntryExists)
}

func TestCatalog_LookupMissing(t *testing.T) {
	cat := NewCatalog(newMockDDBClient(), "branchfs-snapshots", "store-a")

	_, err := cat.Lookup(context.Background(), core.SnapshotID(99))
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestCatalog_Deregister(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(newMockDDBClient(), "branchfs-snapshots", "store-a")

	e := Entry{Snapshot: core.SnapshotID(3), Key: "snapshots/snap-3.tar.zstd"}
	require.NoError(t, cat.Register(ctx, e))
	require.NoError(t, cat.Deregister(ctx, core.SnapshotID(3)))

	_, err := cat.Lookup(ctx, core.SnapshotID(3))
	require.ErrorIs(t, err, archive.ErrNotFound)

	// Deregistering again is a no-op
	require.NoError(t, cat.Deregister(ctx, core.SnapshotID(3)))
}

func TestCatalog_EntriesSortedByTime(t *testing.T) {
	ctx := context.Background()
	cat := NewCatalog(newMockDDBClient(), "branchfs-snapshots", "store-a")

	base := time.Unix(0, 1700000000000000000)
	for i, offset := range []time.Duration{2 * time.Hour, 0, time.Hour} {
		err := cat.Register(ctx, Entry{
			Snapshot: core.SnapshotID(uint64(i + 1)),
			Key:      fmt.Sprintf("snapshots/snap-%d.tar.zstd", i+1),
			Archived: base.Add(offset),
		})
		require.NoError(t, err)
	}

	entries, err := cat.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, core.SnapshotID(2), entries[0].Snapshot)
	assert.Equal(t, core.SnapshotID(3), entries[1].Snapshot)
	assert.Equal(t, core.SnapshotID(1), entries[2].Snapshot)
}

func TestCatalog_IsolatedStores(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	catA := NewCatalog(ddb, "branchfs-snapshots", "store-a")
	catB := NewCatalog(ddb, "branchfs-snapshots", "store-b")

	require.NoError(t, catA.Register(ctx, Entry{Snapshot: core.SnapshotID(1), Key: "snapshots/snap-1.tar.zstd"}))
	require.NoError(t, catB.Register(ctx, Entry{Snapshot: core.SnapshotID(1), Key: "snapshots/snap-1.tar.lz4"}))

	a, err := catA.Lookup(ctx, core.SnapshotID(1))
	require.NoError(t, err)
	assert.Equal(t, "snapshots/snap-1.tar.zstd", a.Key)

	b, err := catB.Lookup(ctx, core.SnapshotID(1))
	require.NoError(t, err)
	assert.Equal(t, "snapshots/snap-1.tar.lz4", b.Key)
}
