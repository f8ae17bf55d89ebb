package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotRecord is a persisted portfolio snapshot for one monitor group.
type SnapshotRecord struct {
	ID              int64
	Group           string
	PassID          uuid.UUID
	TakenAt         time.Time
	WalletCount     int
	PortfolioValue  decimal.Decimal
	SpotValue       decimal.Decimal
	DeltaUSD        decimal.Decimal
	DeltaPct        decimal.Decimal
	MarginHealthPct decimal.Decimal
	MarginLevel     string
	Funding24h      decimal.Decimal
	FundingAll      decimal.Decimal
	Coins           []snapshot.CoinBucket
	Degraded        []string
	CreatedAt       time.Time
}

// NewSnapshotRecord flattens a snapshot's totals. coins should be the annotated copy
// returned by the monitor when available.
func NewSnapshotRecord(group string, passID uuid.UUID, snap snapshot.Snapshot, coins []snapshot.CoinBucket) SnapshotRecord {
	if coins == nil {
		coins = snap.Coins
	}
	t := snap.Totals
	return SnapshotRecord{
		Group:           group,
		PassID:          passID,
		TakenAt:         snap.Timestamp,
		WalletCount:     snap.WalletCount,
		PortfolioValue:  decimal.NewFromFloat(t.PortfolioValue),
		SpotValue:       decimal.NewFromFloat(t.SpotValue),
		DeltaUSD:        decimal.NewFromFloat(t.DeltaUSD),
		DeltaPct:        decimal.NewFromFloat(t.DeltaPct),
		MarginHealthPct: decimal.NewFromFloat(t.MarginHealthPct),
		MarginLevel:     t.MarginLevel,
		Funding24h:      decimal.NewFromFloat(t.Funding24h),
		FundingAll:      decimal.NewFromFloat(t.FundingAll),
		Coins:           coins,
		Degraded:        snap.Degraded,
	}
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID        int64
	Group     string
	PassID    uuid.UUID
	Kind      string
	Symbol    string
	Value     decimal.Decimal
	Threshold decimal.Decimal
	Channels  []string
	Delivered bool
	CreatedAt time.Time
}

// NewAlertRecord converts a monitor alert.
func NewAlertRecord(group string, passID uuid.UUID, a monitor.Alert, channels []string, delivered bool) AlertRecord {
	return AlertRecord{
		Group:     group,
		PassID:    passID,
		Kind:      string(a.Kind),
		Symbol:    a.Symbol,
		Value:     decimal.NewFromFloat(a.Value),
		Threshold: decimal.NewFromFloat(a.Threshold),
		Channels:  channels,
		Delivered: delivered,
	}
}

func encodeCoins(coins []snapshot.CoinBucket) ([]byte, error) {
	if coins == nil {
		coins = []snapshot.CoinBucket{}
	}
	raw, err := json.Marshal(coins)
	if err != nil {
		return nil, fmt.Errorf("encode coins: %w", err)
	}
	return raw, nil
}

func decodeCoins(raw []byte) ([]snapshot.CoinBucket, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var coins []snapshot.CoinBucket
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, fmt.Errorf("decode coins: %w", err)
	}
	return coins, nil
}
