package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type LeaseAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type leaseItem struct {
	PK         string `dynamodbav:"PK"`
	Owner      string `dynamodbav:"Owner"`
	AcquiredAt string `dynamodbav:"AcquiredAt"`
	ExpiresAt  int64  `dynamodbav:"ExpiresAt"`
}

// Leases hands out short lived, table backed locks shared by every Lambda
// instance. ExpiresAt doubles as the table's TTL attribute, so a crashed
// holder never blocks a key for longer than the TTL.
type Leases struct {
	client LeaseAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewLeases(client LeaseAPI, table string, ttl time.Duration) *Leases {
	return &Leases{client: client, table: table, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Acquire returns an owner token when the lease was taken, or "" when another
// holder has an unexpired lease on key.
func (l *Leases) Acquire(ctx context.Context, key string) (string, error) {
	owner, err := randomToken()
	if err != nil {
		return "", err
	}
	now := l.now()

	item, err := attributevalue.MarshalMap(leaseItem{
		PK:         "LEASE#" + key,
		Owner:      owner,
		AcquiredAt: now.Format(time.RFC3339),
		ExpiresAt:  now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return "", nil
		}
		return "", fmt.Errorf("lease PutItem: %w", err)
	}
	return owner, nil
}

// Release drops the lease if owner still holds it.
func (l *Leases) Release(ctx context.Context, key, owner string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "LEASE#" + key},
		},
		ConditionExpression: aws.String("#o = :o"),
		ExpressionAttributeNames: map[string]string{
			"#o": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":o": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			// expired and taken over by someone else
			return nil
		}
		return fmt.Errorf("lease DeleteItem: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
