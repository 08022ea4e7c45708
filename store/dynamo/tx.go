package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/warp/lease-engine/booking"
	"github.com/warp/lease-engine/contract"
	"github.com/warp/lease-engine/generic"
	"github.com/warp/lease-engine/rewards"
	"github.com/warp/lease-engine/store"
	"github.com/warp/lease-engine/transfer"
)

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// pending is the buffered final state of one item.
type pending struct {
	entity      string
	table       string
	id          string
	item        map[string]types.AttributeValue // nil when deleted
	prior       map[string]types.AttributeValue // stored item before the transaction, nil if absent
	baseVersion int64                           // 0 when the item did not exist before
}

type overlay struct {
	writes map[string]*pending // table + "/" + id
	order  []string
}

func (o *overlay) get(table, id string) (*pending, bool) {
	p, ok := o.writes[table+"/"+id]
	return p, ok
}

// put buffers p. The prior item of the first write to a key is kept.
func (o *overlay) put(p *pending) {
	k := p.table + "/" + p.id
	if old, ok := o.writes[k]; ok {
		p.prior = old.prior
	} else {
		o.order = append(o.order, k)
	}
	o.writes[k] = p
}

// WithTx buffers fn's writes and commits them in one TransactWriteItems call.
func (s *Store) WithTx(ctx context.Context, fn func(store.Repos) error) error {
	o := &overlay{writes: make(map[string]*pending)}
	repos := store.Repos{
		Contracts: &txTable[contract.Contract]{base: s.contracts(), o: o},
		Bookings:  &txTable[booking.Booking]{base: s.bookings(), o: o},
		Transfers: &txTable[transfer.Request]{base: s.transfers(), o: o},
		Rewards:   &txTable[rewards.CommitmentReward]{base: s.rewards(), o: o},
	}
	if err := fn(repos); err != nil {
		return err
	}
	return s.commit(ctx, o)
}

func (s *Store) commit(ctx context.Context, o *overlay) error {
	var items []types.TransactWriteItem
	for _, k := range o.order {
		p := o.writes[k]
		if it, ok := transactItem(p); ok {
			items = append(items, it)
		}
		guards, err := s.guardItems(p)
		if err != nil {
			return err
		}
		items = append(items, guards...)
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return generic.Invalid("transaction", "too many writes in one transaction: %d", len(items))
	}

	_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			for _, reason := range tce.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
					return generic.ErrConcurrentModification
				}
			}
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func transactItem(p *pending) (types.TransactWriteItem, bool) {
	switch {
	case p.item == nil && p.baseVersion == 0:
		// Inserted and deleted inside the transaction.
		return types.TransactWriteItem{}, false
	case p.item == nil:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 aws.String(p.table),
			Key:                       key(p.id),
			ConditionExpression:       aws.String(condVersion),
			ExpressionAttributeValues: versionValue(p.baseVersion),
		}}, true
	case p.baseVersion == 0:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(p.table),
			Item:                p.item,
			ConditionExpression: aws.String(condAbsent),
		}}, true
	default:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 aws.String(p.table),
			Item:                      p.item,
			ConditionExpression:       aws.String(condVersion),
			ExpressionAttributeValues: versionValue(p.baseVersion),
		}}, true
	}
}

// =============================================================================
// OVERLAY TABLE
// =============================================================================

type txTable[T generic.Document[T]] struct {
	base *table[T]
	o    *overlay
}

// current returns the document as the transaction sees it, and the version
// it had before the transaction touched it.
func (t *txTable[T]) current(ctx context.Context, id string) (doc T, exists bool, baseVersion int64, err error) {
	if p, ok := t.o.get(t.base.name, id); ok {
		if p.item == nil {
			return doc, false, p.baseVersion, nil
		}
		doc, err = fromItem[T](p.item)
		return doc, err == nil, p.baseVersion, err
	}
	doc, err = t.base.Get(ctx, id)
	if generic.IsNotFound(err) {
		return doc, false, 0, nil
	}
	if err != nil {
		return doc, false, 0, err
	}
	return doc, true, doc.DocumentVersion(), nil
}

func (t *txTable[T]) Get(ctx context.Context, id string) (T, error) {
	doc, ok, _, err := t.current(ctx, id)
	if err != nil {
		return doc, err
	}
	if !ok {
		return doc, generic.NotFound(t.base.entity, id)
	}
	return doc, nil
}

func (t *txTable[T]) Find(ctx context.Context, match func(T) bool) ([]T, error) {
	stored, err := t.base.Find(ctx, generic.All[T])
	if err != nil {
		return nil, err
	}
	byID := make(map[string]T, len(stored))
	for _, d := range stored {
		byID[d.DocumentID()] = d
	}
	for _, k := range t.o.order {
		p := t.o.writes[k]
		if p.table != t.base.name {
			continue
		}
		if p.item == nil {
			delete(byID, p.id)
			continue
		}
		d, err := fromItem[T](p.item)
		if err != nil {
			return nil, err
		}
		byID[p.id] = d
	}

	out := []T{}
	for _, d := range byID {
		if match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID() < out[j].DocumentID() })
	return out, nil
}

func (t *txTable[T]) Insert(ctx context.Context, doc T) (T, error) {
	stored, exists, base, err := t.current(ctx, doc.DocumentID())
	if err != nil {
		return doc, err
	}
	if exists {
		return doc, generic.ErrAlreadyExists
	}
	doc = doc.WithVersion(base + 1)
	return doc, t.buffer(doc, stored, base)
}

func (t *txTable[T]) Update(ctx context.Context, doc T) (T, error) {
	stored, exists, base, err := t.current(ctx, doc.DocumentID())
	if err != nil {
		return doc, err
	}
	if !exists {
		return doc, generic.NotFound(t.base.entity, doc.DocumentID())
	}
	if stored.DocumentVersion() != doc.DocumentVersion() {
		return doc, generic.ErrConcurrentModification
	}
	next := doc.WithVersion(doc.DocumentVersion() + 1)
	return next, t.buffer(next, stored, base)
}

func (t *txTable[T]) Delete(ctx context.Context, id string, version int64) error {
	stored, exists, base, err := t.current(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return generic.NotFound(t.base.entity, id)
	}
	if stored.DocumentVersion() != version {
		return generic.ErrConcurrentModification
	}
	prior, err := priorItem(stored, base)
	if err != nil {
		return err
	}
	t.o.put(&pending{entity: t.base.entity, table: t.base.name, id: id, prior: prior, baseVersion: base})
	return nil
}

func (t *txTable[T]) buffer(doc T, stored T, base int64) error {
	av, err := toItem(doc)
	if err != nil {
		return err
	}
	prior, err := priorItem(stored, base)
	if err != nil {
		return err
	}
	t.o.put(&pending{entity: t.base.entity, table: t.base.name, id: doc.DocumentID(), item: av, prior: prior, baseVersion: base})
	return nil
}

// priorItem encodes the stored document a first write starts from. put
// discards it when the key is already buffered.
func priorItem[T generic.Document[T]](stored T, base int64) (map[string]types.AttributeValue, error) {
	if base == 0 {
		return nil, nil
	}
	return toItem(stored)
}
