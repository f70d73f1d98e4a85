package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// Ad is a row of auto_ad
type Ad struct {
	ID             string     `db:"id_ad"`
	MakeName       *string    `db:"make_name"`
	ModelName      *string    `db:"model_name"`
	Version        *string    `db:"version"`
	Generation     *string    `db:"generation"`
	Year           *int       `db:"year"`
	Title          *string    `db:"title"`
	URL            *string    `db:"url_ad"`
	City           *string    `db:"city"`
	Region         *string    `db:"region"`
	Price          *int64     `db:"price"`
	CurrencyCode   *string    `db:"currencyCode"`
	FuelType       *string    `db:"fuel_type"`
	Gearbox        *string    `db:"gearbox"`
	Mileage        *int       `db:"mileage"`
	EngineCapacity *int       `db:"engine_capacity"`
	Color          *string    `db:"color"`
	Transmission   *string    `db:"transmission"`
	EnginePower    *int       `db:"engine_power"`
	SellerLink     *string    `db:"sellerLink"`
	CreatedAt      *time.Time `db:"createdAt"`
	SourceName     *string    `db:"source_name"`
	CarModelID     *int64     `db:"car_model_id"`
}

// AdPrice is the stored price of an ad
type AdPrice struct {
	Price        *int64  `db:"price"`
	CurrencyCode *string `db:"currencyCode"`
}

// HistoryEntry is a row of auto_ad_history
type HistoryEntry struct {
	AdID         string    `db:"auto_ad_id"`
	Timestamp    time.Time `db:"timestamp"`
	Price        *int64    `db:"price"`
	CurrencyCode *string   `db:"currencyCode"`
	Status       string    `db:"status"`
}

const insertAdSQL = `
	INSERT INTO auto_ad (
		id_ad, make_name, model_name, version, generation, year, title, url_ad, city, region,
		price, "currencyCode", fuel_type, gearbox, mileage, engine_capacity, color, transmission,
		engine_power, "sellerLink", "createdAt", source_name, car_model_id
	) VALUES (
		:id_ad, :make_name, :model_name, :version, :generation, :year, :title, :url_ad, :city, :region,
		:price, :currencyCode, :fuel_type, :gearbox, :mileage, :engine_capacity, :color, :transmission,
		:engine_power, :sellerLink, :createdAt, :source_name, :car_model_id
	)
	ON CONFLICT (id_ad) DO NOTHING`

// Null values never overwrite stored ones.
const updateAdSQL = `
	UPDATE auto_ad SET
		make_name = COALESCE(:make_name, make_name),
		model_name = COALESCE(:model_name, model_name),
		version = COALESCE(:version, version),
		generation = COALESCE(:generation, generation),
		year = COALESCE(:year, year),
		title = COALESCE(:title, title),
		city = COALESCE(:city, city),
		region = COALESCE(:region, region),
		price = COALESCE(:price, price),
		"currencyCode" = COALESCE(:currencyCode, "currencyCode"),
		fuel_type = COALESCE(:fuel_type, fuel_type),
		gearbox = COALESCE(:gearbox, gearbox),
		mileage = COALESCE(:mileage, mileage),
		engine_capacity = COALESCE(:engine_capacity, engine_capacity),
		color = COALESCE(:color, color),
		transmission = COALESCE(:transmission, transmission),
		engine_power = COALESCE(:engine_power, engine_power),
		"sellerLink" = COALESCE(:sellerLink, "sellerLink"),
		"createdAt" = COALESCE(:createdAt, "createdAt")
	WHERE id_ad = :id_ad`

const insertHistorySQL = `
	INSERT INTO auto_ad_history (auto_ad_id, "timestamp", price, "currencyCode", status)
	VALUES (:auto_ad_id, :timestamp, :price, :currencyCode, :status)`

// GetAdPrice returns the stored price of an ad, or nil when the ad is unknown
func (s *Store) GetAdPrice(ctx context.Context, id string) (*AdPrice, error) {
	var p AdPrice
	err := s.db.GetContext(ctx, &p, `SELECT price, "currencyCode" FROM auto_ad WHERE id_ad = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get ad price", err)
	}
	return &p, nil
}

// CreateAd inserts a new ad together with its make, model and first
// history row. It reports false when the ad already exists.
func (s *Store) CreateAd(ctx context.Context, ad Ad, history HistoryEntry) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, wrap("begin create ad", err)
	}
	defer tx.Rollback()

	makeID, makeSlug, err := ensureMake(ctx, tx, deref(ad.MakeName))
	if err != nil {
		return false, err
	}
	if makeID != nil {
		ad.CarModelID, err = ensureModel(ctx, tx, *makeID, makeSlug, deref(ad.ModelName))
		if err != nil {
			return false, err
		}
	}

	res, err := tx.NamedExecContext(ctx, insertAdSQL, ad)
	if err != nil {
		return false, wrap("insert ad", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, wrap("insert ad", err)
	} else if n == 0 {
		return false, nil
	}

	history.AdID = ad.ID
	if _, err := tx.NamedExecContext(ctx, insertHistorySQL, history); err != nil {
		return false, wrap("insert history", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrap("commit create ad", err)
	}
	return true, nil
}

// UpdateAd applies the mutable fields of ad and appends history when given
func (s *Store) UpdateAd(ctx context.Context, ad Ad, history *HistoryEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap("begin update ad", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, updateAdSQL, ad); err != nil {
		return wrap("update ad", err)
	}

	if history != nil {
		history.AdID = ad.ID
		if _, err := tx.NamedExecContext(ctx, insertHistorySQL, history); err != nil {
			return wrap("insert history", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrap("commit update ad", err)
	}
	return nil
}

// ActiveAdIDs lists unsold ads of a source whose make name contains makeName
func (s *Store) ActiveAdIDs(ctx context.Context, sourceName, makeName string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id_ad FROM auto_ad
		WHERE source_name = $1
		AND sold_at IS NULL
		AND make_name ILIKE '%' || $2 || '%'`, sourceName, makeName)
	if err != nil {
		return nil, wrap("list active ads", err)
	}
	return ids, nil
}

// MarkSold stamps an ad as sold and appends a sold history row carrying its
// last price. It reports false when the ad was already sold or is unknown.
func (s *Store) MarkSold(ctx context.Context, id string, at time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, wrap("begin mark sold", err)
	}
	defer tx.Rollback()

	var last AdPrice
	err = tx.GetContext(ctx, &last, `
		UPDATE auto_ad SET sold_at = $1
		WHERE id_ad = $2 AND sold_at IS NULL
		RETURNING price, "currencyCode"`, at, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("mark sold", err)
	}

	_, err = tx.NamedExecContext(ctx, insertHistorySQL, HistoryEntry{
		AdID:         id,
		Timestamp:    at,
		Price:        last.Price,
		CurrencyCode: last.CurrencyCode,
		Status:       StatusSold,
	})
	if err != nil {
		return false, wrap("insert history", err)
	}

	if err := tx.Commit(); err != nil {
		return false, wrap("commit mark sold", err)
	}
	return true, nil
}

func ensureMake(ctx context.Context, tx *sqlx.Tx, name string) (*int64, string, error) {
	if name == "" {
		return nil, "", nil
	}
	slug := MakeSlug(name)

	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO car_make (name, slug) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id`, name, slug)
	if err != nil {
		return nil, "", wrap("ensure make", err)
	}
	return &id, slug, nil
}

func ensureModel(ctx context.Context, tx *sqlx.Tx, makeID int64, makeSlug, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}

	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO car_model (make_id, name, slug) VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
		RETURNING id`, makeID, name, ModelSlug(makeSlug, name))
	if err != nil {
		return nil, wrap("ensure model", err)
	}
	return &id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
