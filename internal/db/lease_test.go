package db

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLeaseTable emulates the two conditional writes Leases issues.
type fakeLeaseTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeLeaseTable() *fakeLeaseTable {
	return &fakeLeaseTable{items: map[string]map[string]types.AttributeValue{}}
}

func attrS(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func attrN(av types.AttributeValue) int64 {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func (f *fakeLeaseTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Item["PK"])
	if cur, ok := f.items[pk]; ok {
		if attrN(cur["ExpiresAt"]) >= attrN(in.ExpressionAttributeValues[":now"]) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("held")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLeaseTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.Key["PK"])
	cur, ok := f.items[pk]
	if !ok || attrS(cur["Owner"]) != attrS(in.ExpressionAttributeValues[":o"]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("not owner")}
	}
	delete(f.items, pk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestLeases_AcquireRelease(t *testing.T) {
	table := newFakeLeaseTable()
	l := NewLeases(table, "order-leases", 2*time.Minute)
	ctx := context.Background()

	owner, err := l.Acquire(ctx, "order:#1001")
	require.NoError(t, err)
	require.NotEmpty(t, owner)

	second, err := l.Acquire(ctx, "order:#1001")
	require.NoError(t, err)
	assert.Empty(t, second, "lease is held")

	other, err := l.Acquire(ctx, "order:#1002")
	require.NoError(t, err)
	assert.NotEmpty(t, other, "keys are independent")

	require.NoError(t, l.Release(ctx, "order:#1001", "someone-else"))
	again, err := l.Acquire(ctx, "order:#1001")
	require.NoError(t, err)
	assert.Empty(t, again, "release by a non-owner is a no-op")

	require.NoError(t, l.Release(ctx, "order:#1001", owner))
	again, err = l.Acquire(ctx, "order:#1001")
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

func TestLeases_ExpiredLeaseIsTakenOver(t *testing.T) {
	table := newFakeLeaseTable()
	l := NewLeases(table, "order-leases", time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := l.Acquire(ctx, "order:#1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	now = now.Add(2 * time.Minute)
	second, err := l.Acquire(ctx, "order:#1")
	require.NoError(t, err)
	assert.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	item := table.items["LEASE#order:#1"]
	assert.Equal(t, second, attrS(item["Owner"]))
	assert.Equal(t, now.Add(time.Minute).Unix(), attrN(item["ExpiresAt"]))
}
