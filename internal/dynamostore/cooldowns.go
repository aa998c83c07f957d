// Package dynamostore keeps order-action cooldowns in a DynamoDB table so
// several bot instances share one dispatch history. Conditional writes give
// the same compare-and-set guarantee the SQLite store gets from its unique
// index; a TTL attribute lets DynamoDB expire stale rows on its own.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tbourn/go-order-bot/internal/domain"
)

const pkPrefix = "COOLDOWN#"

// DefaultRetention is how long a row outlives its dispatch before the table
// TTL may delete it. It must exceed the cooldown window.
const DefaultRetention = 24 * time.Hour

// dynamodbAPI is the subset of *dynamodb.Client the store calls.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CooldownStore implements the services cooldown store on DynamoDB.
type CooldownStore struct {
	api       dynamodbAPI
	table     string
	retention time.Duration
}

// New returns a store writing to table. A non-positive retention selects
// DefaultRetention.
func New(api dynamodbAPI, table string, retention time.Duration) (*CooldownStore, error) {
	if api == nil {
		return nil, errors.New("dynamostore: api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamostore: table name must not be empty")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &CooldownStore{api: api, table: table, retention: retention}, nil
}

func partitionKey(k domain.CooldownKey) string {
	return pkPrefix + k.String()
}

// Get returns the last dispatch time for k.
func (s *CooldownStore) Get(ctx context.Context, k domain.CooldownKey) (time.Time, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: partitionKey(k)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("dynamostore: get %s: %w", k.Action, err)
	}
	if out == nil || len(out.Item) == 0 {
		return time.Time{}, false, nil
	}
	at, err := timeAttr(out.Item, "dispatchedAt")
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Set records at for k unconditionally.
func (s *CooldownStore) Set(ctx context.Context, k domain.CooldownKey, at time.Time) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(k, at),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: set %s: %w", k.Action, err)
	}
	return nil
}

// CompareAndSet writes at only if the stored time equals prev; a zero prev
// requires the key to be absent. A failed condition returns (false, nil).
func (s *CooldownStore) CompareAndSet(ctx context.Context, k domain.CooldownKey, prev, at time.Time) (bool, error) {
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      s.item(k, at),
	}
	if prev.IsZero() {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("dispatchedAt = :prev")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": nanosAttr(prev),
		}
	}

	_, err := s.api.PutItem(ctx, in)
	if err == nil {
		return true, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	return false, fmt.Errorf("dynamostore: claim %s: %w", k.Action, err)
}

func (s *CooldownStore) item(k domain.CooldownKey, at time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: partitionKey(k)},
		"owner":        &types.AttributeValueMemberS{Value: k.Owner},
		"orderId":      &types.AttributeValueMemberS{Value: k.OrderID},
		"action":       &types.AttributeValueMemberS{Value: string(k.Action)},
		"dispatchedAt": nanosAttr(at),
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(at.Add(s.retention).Unix(), 10)},
	}
}

func nanosAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UTC().UnixNano(), 10)}
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	v, ok := item[key]
	if !ok {
		return time.Time{}, fmt.Errorf("dynamostore: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, fmt.Errorf("dynamostore: attribute %q is not a number", key)
	}
	ns, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamostore: parse attribute %q: %w", key, err)
	}
	return time.Unix(0, ns).UTC(), nil
}
