package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceRow is one price point of an offer. An offer may have several rows
// per currency; they become the values of a single record.
type PriceRow struct {
	ID             uint64              `gorm:"column:id;primaryKey"`
	OfferKey       string              `gorm:"column:offer_key;size:191;index:idx_offer_currency"`
	Currency       string              `gorm:"column:currency;size:8;index:idx_offer_currency"`
	OfferType      *string             `gorm:"column:offer_type;size:64"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:decimal(20,6)"`
	OriginalAmount decimal.NullDecimal `gorm:"column:original_amount;type:decimal(20,6)"`
	Attributes     []byte              `gorm:"column:attributes;type:json"`
	UpdatedAt      time.Time           `gorm:"column:updated_at"`
}

// TableName implements gorm's tabler
func (PriceRow) TableName() string {
	return "offer_prices"
}

// PriceRepository reads price batches from the database. offer_key is
// stored lower-cased, so lookups use normalized keys.
type PriceRepository struct {
	logger logger.Logger
	db     Database
}

var _ pricing.Transport = (*PriceRepository)(nil)

// NewPriceRepository creates a repository on db
func NewPriceRepository(log logger.Logger, db Database) (*PriceRepository, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PriceRepository{logger: log, db: db}, nil
}

// FetchBatch implements pricing.Transport. The partition is the currency.
// Keys without rows are simply absent from the result.
func (r *PriceRepository) FetchBatch(ctx context.Context, keys []string, partition string) ([]pricing.Record, error) {
	gdb, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var rows []PriceRow
	if err := pricesQuery(gdb.WithContext(ctx), keys, partition).Find(&rows).Error; err != nil {
		return nil, ErrQuery(partition, err)
	}
	return r.groupRows(keys, rows), nil
}

func pricesQuery(db *gorm.DB, keys []string, currency string) *gorm.DB {
	norms := make([]string, len(keys))
	for i, k := range keys {
		norms[i] = pricing.NormalizeKey(k)
	}
	return db.Model(&PriceRow{}).
		Where("offer_key IN ? AND currency = ?", norms, currency).
		Order("offer_key").
		Order("id")
}

// groupRows folds rows into one record per requested key, in request order.
// Records carry the key as the caller spelled it.
func (r *PriceRepository) groupRows(keys []string, rows []PriceRow) []pricing.Record {
	byKey := make(map[string][]PriceRow, len(keys))
	for _, row := range rows {
		norm := pricing.NormalizeKey(row.OfferKey)
		byKey[norm] = append(byKey[norm], row)
	}

	records := make([]pricing.Record, 0, len(byKey))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		norm := pricing.NormalizeKey(key)
		group, ok := byKey[norm]
		if !ok || seen[norm] {
			continue
		}
		seen[norm] = true

		record := pricing.Record{
			Key:    key,
			Type:   group[0].OfferType,
			Values: make([]pricing.Value, 0, len(group)),
		}
		for _, row := range group {
			record.Values = append(record.Values, r.toValue(row))
		}
		records = append(records, record)
	}
	return records
}

func (r *PriceRepository) toValue(row PriceRow) pricing.Value {
	v := pricing.Value{
		Amount:   row.Amount,
		Currency: row.Currency,
	}
	if row.OriginalAmount.Valid {
		original := row.OriginalAmount.Decimal
		v.Original = &original
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &v.Attributes); err != nil {
			r.logger.Warn("ignoring malformed price attributes",
				zap.Uint64("id", row.ID),
				zap.String("offer_key", row.OfferKey),
				zap.Error(err),
			)
			v.Attributes = nil
		}
	}
	return v
}
