package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AssetID maps asset symbols to numeric IDs for compact keys
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"DOT":  1,
		"KSM":  2,
		"USDT": 3,
		"BTC":  4,
	}
	idToAsset = map[AssetID]string{
		1: "DOT",
		2: "KSM",
		3: "USDT",
		4: "BTC",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// Pool distinguishes the two balance pools of an account.
// Free funds are spendable; reserved funds back a live escrow order and are
// unavailable for ordinary transfer until released or repatriated.
type Pool uint8

const (
	PoolFree Pool = iota
	PoolReserved
)

func (p Pool) String() string {
	switch p {
	case PoolFree:
		return "free"
	case PoolReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// BalanceKey is the in-memory key for balance cells (19 bytes, cache-friendly)
type BalanceKey struct {
	Account uuid.UUID
	Asset   AssetID
	Pool    Pool
}

func NewBalanceKey(account uuid.UUID, asset AssetID, pool Pool) BalanceKey {
	return BalanceKey{Account: account, Asset: asset, Pool: pool}
}

// Path returns the string representation for storage/logging
func (k BalanceKey) Path() string {
	assetName, _ := GetAssetName(k.Asset)
	return fmt.Sprintf("account:%s:%s:%s", k.Account.String(), k.Pool, assetName)
}

// ParseBalancePath parses a BalanceKey.Path() string back into a key.
func ParseBalancePath(path string) (BalanceKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 || parts[0] != "account" {
		return BalanceKey{}, fmt.Errorf("malformed balance path: %q", path)
	}
	account, err := uuid.Parse(parts[1])
	if err != nil {
		return BalanceKey{}, fmt.Errorf("balance path %q: %w", path, err)
	}
	var pool Pool
	switch parts[2] {
	case "free":
		pool = PoolFree
	case "reserved":
		pool = PoolReserved
	default:
		return BalanceKey{}, fmt.Errorf("balance path %q: unknown pool %q", path, parts[2])
	}
	asset, ok := GetAssetID(parts[3])
	if !ok {
		return BalanceKey{}, fmt.Errorf("balance path %q: unknown asset %q", path, parts[3])
	}
	return BalanceKey{Account: account, Asset: asset, Pool: pool}, nil
}

// AllowanceKey identifies an (owner, spender) allowance for one asset
type AllowanceKey struct {
	Owner   uuid.UUID
	Spender uuid.UUID
	Asset   AssetID
}

func NewAllowanceKey(owner, spender uuid.UUID, asset AssetID) AllowanceKey {
	return AllowanceKey{Owner: owner, Spender: spender, Asset: asset}
}

func (k AllowanceKey) Path() string {
	assetName, _ := GetAssetName(k.Asset)
	return fmt.Sprintf("allowance:%s:%s:%s", k.Owner.String(), k.Spender.String(), assetName)
}

// ParseAllowancePath parses an AllowanceKey.Path() string back into a key.
func ParseAllowancePath(path string) (AllowanceKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 || parts[0] != "allowance" {
		return AllowanceKey{}, fmt.Errorf("malformed allowance path: %q", path)
	}
	owner, err := uuid.Parse(parts[1])
	if err != nil {
		return AllowanceKey{}, fmt.Errorf("allowance path %q: %w", path, err)
	}
	spender, err := uuid.Parse(parts[2])
	if err != nil {
		return AllowanceKey{}, fmt.Errorf("allowance path %q: %w", path, err)
	}
	asset, ok := GetAssetID(parts[3])
	if !ok {
		return AllowanceKey{}, fmt.Errorf("allowance path %q: unknown asset %q", path, parts[3])
	}
	return AllowanceKey{Owner: owner, Spender: spender, Asset: asset}, nil
}
