package dynamo

import (
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// =============================================================================
// UNIQUENESS GUARDS
// =============================================================================

// Guards is the entity name of the table holding uniqueness guards.
const Guards = "guards"

// guard reserves a key for the document that owns it. A guard exists for
// every live booking slot and every open transfer request, so two
// transactions that each checked with a scan cannot both commit.
type guard struct {
	ID    string `dynamodbav:"id"`
	Owner string `dynamodbav:"owner"`
}

const condGuardRelease = "attribute_not_exists(id) OR #owner = :owner"

func slotGuard(b booking.Booking) string {
	return fmt.Sprintf("slot#%s#%s#%s", b.UnitID, b.CounterpartyID, b.Kind)
}

func pendingTransferGuard(t transfer.Request) string {
	return "pending#" + t.RequesterID
}

// guardKeys returns the guards the stored item must hold.
func guardKeys(entity string, av map[string]types.AttributeValue) ([]string, error) {
	if av == nil {
		return nil, nil
	}
	switch entity {
	case store.Bookings:
		b, err := fromItem[booking.Booking](av)
		if err != nil || !b.Status.Live() {
			return nil, err
		}
		return []string{slotGuard(b)}, nil
	case store.Transfers:
		t, err := fromItem[transfer.Request](av)
		if err != nil || !t.Status.Open() {
			return nil, err
		}
		return []string{pendingTransferGuard(t)}, nil
	}
	return nil, nil
}

// guardItems acquires the guards a write gains and releases the ones it
// drops, inside the same transaction as the write.
func (s *Store) guardItems(p *pending) ([]types.TransactWriteItem, error) {
	before, err := guardKeys(p.entity, p.prior)
	if err != nil {
		return nil, err
	}
	after, err := guardKeys(p.entity, p.item)
	if err != nil {
		return nil, err
	}

	var items []types.TransactWriteItem
	for _, k := range after {
		if slices.Contains(before, k) {
			continue
		}
		av, err := attributevalue.MarshalMap(guard{ID: k, Owner: p.id})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal guard: %w", err)
		}
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(s.TableName(Guards)),
			Item:                av,
			ConditionExpression: aws.String(condAbsent),
		}})
	}
	owner := map[string]types.AttributeValue{":owner": &types.AttributeValueMemberS{Value: p.id}}
	for _, k := range before {
		if slices.Contains(after, k) {
			continue
		}
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(s.TableName(Guards)),
			Key:                       key(k),
			ConditionExpression:       aws.String(condGuardRelease),
			ExpressionAttributeNames:  map[string]string{"#owner": "owner"},
			ExpressionAttributeValues: owner,
		}})
	}
	return items, nil
}
