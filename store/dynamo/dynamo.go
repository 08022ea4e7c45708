/*
Package dynamo provides an AWS DynamoDB implementation of store.Store.

TABLES:
  One table per entity, named <prefix><entity> (e.g. lease-contracts),
  with a string partition key "id". Each item holds:

    id         S  partition key
    version    N  compare-and-set attribute
    doc        S  JSON document
    updated_at S

COMPARE-AND-SET:
  Insert  PutItem    attribute_not_exists(id)
  Update  PutItem    version = :expected
  Delete  DeleteItem version = :expected

  A failed condition is told apart from a missing item with
  ReturnValuesOnConditionCheckFailure = ALL_OLD.

TRANSACTIONS:
  WithTx buffers writes in an overlay (reads inside the transaction see
  them) and commits them with one TransactWriteItems call. Each buffered
  write keeps the condition of the version it started from, so a
  concurrent writer cancels the whole transaction.

GUARDS:
  Conditions only cover items a transaction writes, not the scans it read.
  The <prefix>guards table closes that gap for the two uniqueness rules:

    slot#<unit>#<counterparty>#<kind>  held by each live booking
    pending#<requester>                held by each open transfer request

  A write that makes a booking live or a request open puts its guard with
  attribute_not_exists(id); a write that ends it deletes the guard. Both
  travel in the same TransactWriteItems call, so the second of two racing
  inserts is cancelled. Guards are kept by WithTx only; single writes
  through Repos do not touch them.
*/
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

// maxTransactItems is the DynamoDB limit per TransactWriteItems call.
const maxTransactItems = 100

// Store implements store.Store using DynamoDB.
type Store struct {
	Client DynamoDBAPI
	Prefix string
}

var _ store.Store = (*Store)(nil)

// New creates a Store whose tables are named prefix+entity.
func New(client DynamoDBAPI, prefix string) *Store {
	return &Store{Client: client, Prefix: prefix}
}

func (s *Store) TableName(entity string) string { return s.Prefix + entity }

func (s *Store) Close() error { return nil }

func (s *Store) Repos() store.Repos {
	return store.Repos{
		Contracts: s.contracts(),
		Bookings:  s.bookings(),
		Transfers: s.transfers(),
		Rewards:   s.rewards(),
	}
}

func (s *Store) contracts() *table[contract.Contract] {
	return &table[contract.Contract]{client: s.Client, entity: store.Contracts, name: s.TableName(store.Contracts)}
}

func (s *Store) bookings() *table[booking.Booking] {
	return &table[booking.Booking]{client: s.Client, entity: store.Bookings, name: s.TableName(store.Bookings)}
}

func (s *Store) transfers() *table[transfer.Request] {
	return &table[transfer.Request]{client: s.Client, entity: store.Transfers, name: s.TableName(store.Transfers)}
}

func (s *Store) rewards() *table[rewards.CommitmentReward] {
	return &table[rewards.CommitmentReward]{client: s.Client, entity: store.Rewards, name: s.TableName(store.Rewards)}
}

// =============================================================================
// ITEMS
// =============================================================================

type item struct {
	ID        string `dynamodbav:"id"`
	Version   int64  `dynamodbav:"version"`
	Doc       string `dynamodbav:"doc"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func toItem[T generic.Document[T]](doc T) (map[string]types.AttributeValue, error) {
	b, err := store.Encode(doc)
	if err != nil {
		return nil, err
	}
	av, err := attributevalue.MarshalMap(item{
		ID:        doc.DocumentID(),
		Version:   doc.DocumentVersion(),
		Doc:       string(b),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	return av, nil
}

func fromItem[T generic.Document[T]](av map[string]types.AttributeValue) (T, error) {
	var (
		zero T
		it   item
	)
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return store.Decode[T]([]byte(it.Doc))
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func versionValue(v int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}}
}

const (
	condAbsent  = "attribute_not_exists(id)"
	condVersion = "version = :expected"
)

// =============================================================================
// TABLE
// =============================================================================

type table[T generic.Document[T]] struct {
	client DynamoDBAPI
	entity string
	name   string
}

func (t *table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.name),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, fmt.Errorf("failed to get %s %s: %w", t.entity, id, err)
	}
	if len(out.Item) == 0 {
		return zero, generic.NotFound(t.entity, id)
	}
	return fromItem[T](out.Item)
}

func (t *table[T]) Find(ctx context.Context, match func(T) bool) ([]T, error) {
	out := []T{}
	p := dynamodb.NewScanPaginator(t.client, &dynamodb.ScanInput{
		TableName:      aws.String(t.name),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.entity, err)
		}
		for _, av := range page.Items {
			doc, err := fromItem[T](av)
			if err != nil {
				return nil, err
			}
			if match(doc) {
				out = append(out, doc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID() < out[j].DocumentID() })
	return out, nil
}

func (t *table[T]) Insert(ctx context.Context, doc T) (T, error) {
	doc = doc.WithVersion(1)
	av, err := toItem(doc)
	if err != nil {
		return doc, err
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(t.name),
		Item:                av,
		ConditionExpression: aws.String(condAbsent),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return doc, generic.ErrAlreadyExists
		}
		return doc, fmt.Errorf("failed to insert %s: %w", t.entity, err)
	}
	return doc, nil
}

func (t *table[T]) Update(ctx context.Context, doc T) (T, error) {
	expected := doc.DocumentVersion()
	next := doc.WithVersion(expected + 1)
	av, err := toItem(next)
	if err != nil {
		return doc, err
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(t.name),
		Item:                                av,
		ConditionExpression:                 aws.String(condVersion),
		ExpressionAttributeValues:           versionValue(expected),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return doc, t.writeError(err, doc.DocumentID(), "update")
	}
	return next, nil
}

func (t *table[T]) Delete(ctx context.Context, id string, version int64) error {
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(t.name),
		Key:                                 key(id),
		ConditionExpression:                 aws.String(condVersion),
		ExpressionAttributeValues:           versionValue(version),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return t.writeError(err, id, "delete")
	}
	return nil
}

// writeError maps a failed conditional write onto the error taxonomy.
func (t *table[T]) writeError(err error, id, op string) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if len(ccf.Item) == 0 {
			return generic.NotFound(t.entity, id)
		}
		return generic.ErrConcurrentModification
	}
	return fmt.Errorf("failed to %s %s: %w", op, t.entity, err)
}
