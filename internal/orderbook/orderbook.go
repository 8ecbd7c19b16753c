package orderbook

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"escrowledger/internal/event"
	"escrowledger/internal/ledger"
)

// Order is an immutable escrow order: a reserved base-asset amount offered
// against a requested target-asset amount. Created by Submit, consumed
// exactly once by Take (settles) or Cancel (aborts), never mutated in place.
type Order struct {
	ID           uint64
	BaseAsset    ledger.AssetID
	BaseAmount   uint64
	TargetAsset  ledger.AssetID
	TargetAmount uint64
	Owner        uuid.UUID
}

// EventView converts the order to its event-facing representation.
func (o Order) EventView() event.Order {
	baseName, _ := ledger.GetAssetName(o.BaseAsset)
	targetName, _ := ledger.GetAssetName(o.TargetAsset)
	return event.Order{
		ID:           o.ID,
		BaseAsset:    baseName,
		BaseAmount:   o.BaseAmount,
		TargetAsset:  targetName,
		TargetAmount: o.TargetAmount,
		Owner:        o.Owner,
	}
}

// Book holds the live order set and owns order identity allocation. The id
// counter starts at zero, advances by exactly one per successful Submit, and
// is never decremented or reused. A settled or cancelled order is removed
// from the live set; its id stays burned.
// Not thread-safe — accessed from the single-threaded core only.
type Book struct {
	orders map[uint64]Order
	nextID uint64
}

func New() *Book {
	return &Book{
		orders: make(map[uint64]Order),
	}
}

// NextID returns the id the next successful Submit will assign.
func (b *Book) NextID() uint64 {
	return b.nextID
}

// Size returns the number of live orders.
func (b *Book) Size() int {
	return len(b.orders)
}

// Get returns a live order by id.
func (b *Book) Get(id uint64) (Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// lookup distinguishes never-issued ids from consumed ones.
func (b *Book) lookup(id uint64) (Order, error) {
	if id >= b.nextID {
		return Order{}, ledger.ErrInvalidOrderID
	}
	o, ok := b.orders[id]
	if !ok {
		return Order{}, ledger.ErrOrderIsNone
	}
	return o, nil
}

// Submit reserves baseAmount of baseAsset from owner and stores a new order
// under the next id. The reservation and the id allocation both succeed or
// neither takes effect: the overflow check runs before anything is staged,
// the reservation stages on tx, and the book is only mutated once staging
// succeeded. The caller commits tx immediately after; Commit cannot fail.
func (b *Book) Submit(tx *ledger.Txn, owner uuid.UUID, baseAsset ledger.AssetID, baseAmount uint64, targetAsset ledger.AssetID, targetAmount uint64) (uint64, error) {
	if b.nextID == math.MaxUint64 {
		return 0, ledger.ErrOrderIDOverflow
	}

	if err := tx.Reserve(owner, baseAsset, baseAmount); err != nil {
		return 0, err
	}

	id := b.nextID
	order := Order{
		ID:           id,
		BaseAsset:    baseAsset,
		BaseAmount:   baseAmount,
		TargetAsset:  targetAsset,
		TargetAmount: targetAmount,
		Owner:        owner,
	}

	b.orders[id] = order
	b.nextID++

	tx.Emit(event.OrderCreated{OrderID: id, Order: order.EventView()})
	return id, nil
}

// Take settles an order as one atomic unit: the taker pays targetAmount of
// the target asset to the owner, and the owner's reserved baseAmount is
// repatriated into the taker's free balance. A repatriation shortfall fails
// the whole operation; either both legs commit or the order stays live and
// no balances move. The legs move through non-emitting primitives so the
// settlement commits a single OrderTaken event; projections replay both
// legs from it.
func (b *Book) Take(tx *ledger.Txn, taker uuid.UUID, id uint64) error {
	order, err := b.lookup(id)
	if err != nil {
		return err
	}

	if err := tx.MoveFree(taker, order.Owner, order.TargetAsset, order.TargetAmount); err != nil {
		return err
	}

	shortfall, err := tx.Repatriate(order.Owner, taker, order.BaseAsset, order.BaseAmount, ledger.PoolFree)
	if err != nil {
		return err
	}
	if shortfall != 0 {
		return ledger.ErrInsufficientBalance
	}

	delete(b.orders, id)
	tx.Emit(event.OrderTaken{Taker: taker, OrderID: id, Order: order.EventView()})
	return nil
}

// Cancel removes a live order owned by caller and releases the owner's
// base-asset reservation back to free balance. Leaving the reservation in
// place would lock the funds forever — there is no other path out of the
// reserved pool once the order is gone.
func (b *Book) Cancel(tx *ledger.Txn, caller uuid.UUID, id uint64) error {
	order, err := b.lookup(id)
	if err != nil {
		return err
	}
	if order.Owner != caller {
		return ledger.ErrNotOwner
	}

	if err := tx.Release(order.Owner, order.BaseAsset, order.BaseAmount); err != nil {
		return err
	}

	delete(b.orders, id)
	tx.Emit(event.OrderCancelled{OrderID: id})
	return nil
}

// === Snapshot & Restore ===

// Live returns all live orders sorted by id.
func (b *Book) Live() []Order {
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the live set and id counter. Restore path only.
func (b *Book) Restore(orders []Order, nextID uint64) {
	b.orders = make(map[uint64]Order, len(orders))
	for _, o := range orders {
		b.orders[o.ID] = o
	}
	b.nextID = nextID
}
