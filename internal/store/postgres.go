package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/auction-intel/internal/model"
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres wraps an existing pool. The store owns the pool and closes it on Close.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []any
}

// add appends a predicate; expr must contain exactly one %d for the placeholder index.
func (w *whereBuilder) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(expr, len(w.args)))
}

func (w *whereBuilder) raw(expr string) {
	w.clauses = append(w.clauses, expr)
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

// -----------------------------------------------------------------------------
// Listings
// -----------------------------------------------------------------------------

const listingColumns = `id, url, title, description, source_website, scraped_at, updated_at,
	manufacturer, model, caliber, serial_number, year_manufactured, category, sub_category,
	condition, bore_condition, finish_percentage, original_parts, mechanical_function,
	provenance, rarity, desirability, investment_grade, transfer_type, nfa_item,
	included_accessories, original_box, paperwork, is_estate_sale, estate_size, collection_name,
	auction_house, lot_number, starting_bid, current_bid, estimate_low, estimate_high, auction_date,
	city, state, latitude, longitude,
	status, enrichment_status, enriched_at, enrichment_version, ai_extracted_data`

func scanListing(row pgx.Row) (model.AuctionListing, error) {
	var (
		l                  model.AuctionListing
		status, enrichment string
		aiData             []byte
	)
	err := row.Scan(
		&l.ID, &l.URL, &l.Title, &l.Description, &l.SourceWebsite, &l.ScrapedAt, &l.UpdatedAt,
		&l.Manufacturer, &l.Model, &l.Caliber, &l.SerialNumber, &l.YearManufactured, &l.Category, &l.SubCategory,
		&l.Condition, &l.BoreCondition, &l.FinishPercentage, &l.OriginalParts, &l.MechanicalFunction,
		&l.Provenance, &l.Rarity, &l.Desirability, &l.InvestmentGrade, &l.TransferType, &l.NFAItem,
		&l.IncludedAccessories, &l.OriginalBox, &l.Paperwork, &l.IsEstateSale, &l.EstateSize, &l.CollectionName,
		&l.AuctionHouse, &l.LotNumber, &l.StartingBid, &l.CurrentBid, &l.EstimateLow, &l.EstimateHigh, &l.AuctionDate,
		&l.City, &l.State, &l.Latitude, &l.Longitude,
		&status, &enrichment, &l.EnrichedAt, &l.EnrichmentVersion, &aiData,
	)
	if err != nil {
		return model.AuctionListing{}, err
	}
	l.Status = model.ListingStatus(status)
	l.EnrichmentStatus = model.EnrichmentStatus(enrichment)
	if len(aiData) > 0 {
		l.AIExtractedData = json.RawMessage(aiData)
	}
	return l, nil
}

func (p *Postgres) GetListing(ctx context.Context, id int64) (model.AuctionListing, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM firearms_auctions WHERE id = $1`, id)
	l, err := scanListing(row)
	if err != nil {
		return l, notFound(err, fmt.Sprintf("listing %d", id))
	}
	return l, nil
}

func (p *Postgres) GetListingByURL(ctx context.Context, url string) (model.AuctionListing, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM firearms_auctions WHERE url = $1`, url)
	l, err := scanListing(row)
	if err != nil {
		return l, notFound(err, fmt.Sprintf("listing %q", url))
	}
	return l, nil
}

func (p *Postgres) InsertListing(ctx context.Context, l model.AuctionListing) (int64, error) {
	if l.Status == "" {
		l.Status = model.StatusActive
	}
	if l.EnrichmentStatus == "" {
		l.EnrichmentStatus = model.EnrichmentPending
	}
	if l.ScrapedAt.IsZero() {
		l.ScrapedAt = time.Now()
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.ScrapedAt
	}

	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO firearms_auctions (
			url, title, description, source_website, scraped_at, updated_at,
			manufacturer, model, caliber, category, condition,
			auction_house, lot_number, starting_bid, current_bid, estimate_low, estimate_high, auction_date,
			city, state, is_estate_sale, status, enrichment_status
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23
		) RETURNING id`,
		l.URL, l.Title, l.Description, l.SourceWebsite, l.ScrapedAt, l.UpdatedAt,
		l.Manufacturer, l.Model, l.Caliber, l.Category, l.Condition,
		l.AuctionHouse, l.LotNumber, l.StartingBid, l.CurrentBid, l.EstimateLow, l.EstimateHigh, l.AuctionDate,
		l.City, l.State, l.IsEstateSale, string(l.Status), string(l.EnrichmentStatus),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert listing %q: %w", l.URL, err)
	}
	return id, nil
}

func (p *Postgres) exec(ctx context.Context, what string, id int64, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s %d: %w", what, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) UpdateVolatile(ctx context.Context, id int64, currentBid *float64, at time.Time) error {
	return p.exec(ctx, "update listing", id, `
		UPDATE firearms_auctions
		SET current_bid = COALESCE($2, current_bid), updated_at = $3
		WHERE id = $1`, id, currentBid, at)
}

func (p *Postgres) SetEnrichmentStatus(ctx context.Context, id int64, status model.EnrichmentStatus, at time.Time) error {
	return p.exec(ctx, "set enrichment status", id, `
		UPDATE firearms_auctions SET enrichment_status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at)
}

func (p *Postgres) ApplyEnrichment(ctx context.Context, id int64, u model.EnrichmentUpdate, at time.Time) error {
	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	var aiData []byte
	if len(u.AIExtractedData) > 0 {
		aiData = u.AIExtractedData
	}

	return p.exec(ctx, "apply enrichment", id, `
		UPDATE firearms_auctions SET
			manufacturer = $2, model = $3, caliber = $4, serial_number = $5, year_manufactured = $6,
			category = $7, sub_category = $8, condition = $9, bore_condition = $10, finish_percentage = $11,
			original_parts = $12, mechanical_function = $13, provenance = $14, rarity = $15, desirability = $16,
			investment_grade = $17, transfer_type = $18, nfa_item = $19, included_accessories = $20,
			original_box = $21, paperwork = $22, is_estate_sale = $23, estate_size = $24, collection_name = $25,
			auction_house = $26, lot_number = $27, starting_bid = $28, current_bid = $29,
			estimate_low = $30, estimate_high = $31, auction_date = $32,
			status = COALESCE($33, status),
			enrichment_version = $34, ai_extracted_data = $35,
			enrichment_status = 'completed', enriched_at = $36, updated_at = $36
		WHERE id = $1`,
		id,
		u.Manufacturer, u.Model, u.Caliber, u.SerialNumber, u.YearManufactured,
		u.Category, u.SubCategory, u.Condition, u.BoreCondition, u.FinishPercentage,
		u.OriginalParts, u.MechanicalFunction, u.Provenance, u.Rarity, u.Desirability,
		u.InvestmentGrade, u.TransferType, u.NFAItem, u.IncludedAccessories,
		u.OriginalBox, u.Paperwork, u.IsEstateSale, u.EstateSize, u.CollectionName,
		u.AuctionHouse, u.LotNumber, u.StartingBid, u.CurrentBid,
		u.EstimateLow, u.EstimateHigh, u.AuctionDate,
		status,
		u.EnrichmentVersion, aiData,
		at,
	)
}

func listingWhere(f ListingFilter) *whereBuilder {
	w := &whereBuilder{}
	if len(f.Statuses) > 0 {
		s := make([]string, len(f.Statuses))
		for i, v := range f.Statuses {
			s[i] = string(v)
		}
		w.add("status = ANY($%d)", s)
	}
	if len(f.EnrichmentStatuses) > 0 {
		s := make([]string, len(f.EnrichmentStatuses))
		for i, v := range f.EnrichmentStatuses {
			s[i] = string(v)
		}
		w.add("enrichment_status = ANY($%d)", s)
	}
	if f.Category != "" {
		w.add("category = $%d", f.Category)
	}
	if f.Condition != "" {
		w.add("condition = $%d", f.Condition)
	}
	if f.State != "" {
		w.add("state = $%d", f.State)
	}
	if f.AuctionHouse != "" {
		w.add("auction_house = $%d", f.AuctionHouse)
	}
	if f.Manufacturer != "" {
		w.add("manufacturer ILIKE '%%' || $%d || '%%'", f.Manufacturer)
	}
	if f.Caliber != "" {
		w.add("caliber ILIKE '%%' || $%d || '%%'", f.Caliber)
	}
	if f.MinPrice != nil {
		w.add("current_bid >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		w.add("current_bid <= $%d", *f.MaxPrice)
	}
	if f.EstateSalesOnly {
		w.raw("is_estate_sale")
	}
	if f.NFAOnly {
		w.raw("nfa_item")
	}
	if f.RequireComparable {
		w.raw("manufacturer IS NOT NULL AND model IS NOT NULL AND current_bid IS NOT NULL")
	}
	if f.ScrapedSince != nil {
		w.add("scraped_at >= $%d", *f.ScrapedSince)
	}
	if f.AuctionDateFrom != nil {
		w.add("auction_date >= $%d", *f.AuctionDateFrom)
	}
	if f.AuctionDateTo != nil {
		w.add("auction_date <= $%d", *f.AuctionDateTo)
	}
	return w
}

func (p *Postgres) ListListings(ctx context.Context, f ListingFilter) ([]model.AuctionListing, error) {
	w := listingWhere(f)

	sql := `SELECT ` + listingColumns + ` FROM firearms_auctions` + w.String()
	switch f.OrderBy {
	case OrderAuctionDateAsc:
		sql += ` ORDER BY auction_date ASC NULLS LAST, id ASC`
	default:
		sql += ` ORDER BY scraped_at DESC, id DESC`
	}
	if f.Limit > 0 {
		sql += ` LIMIT ` + w.next(f.Limit)
	}
	if f.Offset > 0 {
		sql += ` OFFSET ` + w.next(f.Offset)
	}

	rows, err := p.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	listings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuctionListing, error) {
		return scanListing(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan listings: %w", err)
	}
	return listings, nil
}

func (p *Postgres) CountListings(ctx context.Context, f ListingFilter) (int, error) {
	w := listingWhere(f)
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM firearms_auctions`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return n, nil
}

func (p *Postgres) ListIDs(ctx context.Context, statuses ...model.EnrichmentStatus) ([]int64, error) {
	w := &whereBuilder{}
	if len(statuses) > 0 {
		s := make([]string, len(statuses))
		for i, v := range statuses {
			s[i] = string(v)
		}
		w.add("enrichment_status = ANY($%d)", s)
	}

	rows, err := p.pool.Query(ctx, `SELECT id FROM firearms_auctions`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query listing ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan listing ids: %w", err)
	}
	return ids, nil
}

func (p *Postgres) ResetEnrichment(ctx context.Context, at time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE firearms_auctions SET enrichment_status = 'pending', updated_at = $1`, at)
	if err != nil {
		return 0, fmt.Errorf("reset enrichment: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ResetStaleProcessing(ctx context.Context, cutoff, at time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE firearms_auctions
		SET enrichment_status = 'pending', updated_at = $2
		WHERE enrichment_status = 'processing' AND updated_at < $1`, cutoff, at)
	if err != nil {
		return 0, fmt.Errorf("reset stale processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) EnrichmentStats(ctx context.Context) (model.EnrichmentStats, error) {
	var s model.EnrichmentStats
	rows, err := p.pool.Query(ctx, `SELECT enrichment_status, count(*) FROM firearms_auctions GROUP BY enrichment_status`)
	if err != nil {
		return s, fmt.Errorf("query enrichment stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return s, fmt.Errorf("scan enrichment stats: %w", err)
		}
		s.Total += n
		switch model.EnrichmentStatus(status) {
		case model.EnrichmentPending:
			s.Pending = n
		case model.EnrichmentProcessing:
			s.Processing = n
		case model.EnrichmentCompleted:
			s.Completed = n
		case model.EnrichmentFailed:
			s.Failed = n
		}
	}
	return s, rows.Err()
}

func (p *Postgres) CategoryCounts(ctx context.Context, f ListingFilter) ([]model.CategoryCount, error) {
	limit := f.Limit
	f.Limit, f.Offset = 0, 0

	w := listingWhere(f)
	w.raw("category IS NOT NULL AND category <> ''")
	sql := `SELECT category, count(*) AS n, avg(current_bid) FROM firearms_auctions` + w.String() +
		` GROUP BY category ORDER BY n DESC, category`
	if limit > 0 {
		sql += ` LIMIT ` + w.next(limit)
	}

	rows, err := p.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query category counts: %w", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CategoryCount, error) {
		var c model.CategoryCount
		err := row.Scan(&c.Category, &c.Count, &c.AvgBid)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan category counts: %w", err)
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Price history
// -----------------------------------------------------------------------------

const priceColumns = `id, manufacturer, manufacturer_normalized, model, model_normalized,
	caliber, condition, sale_price, auction_date, auction_house, source_url, created_at`

func scanPrice(row pgx.CollectableRow) (model.PriceHistoryRecord, error) {
	var r model.PriceHistoryRecord
	err := row.Scan(&r.ID, &r.Manufacturer, &r.ManufacturerNormalized, &r.Model, &r.ModelNormalized,
		&r.Caliber, &r.Condition, &r.SalePrice, &r.AuctionDate, &r.AuctionHouse, &r.SourceURL, &r.CreatedAt)
	return r, err
}

func (p *Postgres) InsertPriceRecord(ctx context.Context, r model.PriceHistoryRecord) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO price_history (
			manufacturer, manufacturer_normalized, model, model_normalized,
			caliber, condition, sale_price, auction_date, auction_house, source_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		r.Manufacturer, r.ManufacturerNormalized, r.Model, r.ModelNormalized,
		r.Caliber, r.Condition, r.SalePrice, r.AuctionDate, r.AuctionHouse, r.SourceURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert price record: %w", err)
	}
	return id, nil
}

func (p *Postgres) ListPriceHistorySince(ctx context.Context, since time.Time) ([]model.PriceHistoryRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+priceColumns+` FROM price_history
		WHERE auction_date >= $1 ORDER BY auction_date, id`, since)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanPrice)
	if err != nil {
		return nil, fmt.Errorf("scan price history: %w", err)
	}
	return records, nil
}

func (p *Postgres) Comparables(ctx context.Context, manufacturerKey, modelKey, condition string, limit int) ([]model.PriceHistoryRecord, error) {
	w := &whereBuilder{}
	w.add("manufacturer_normalized = $%d", manufacturerKey)
	w.add("model_normalized = $%d", modelKey)
	if condition != "" {
		w.add("condition = $%d", condition)
	}

	sql := `SELECT ` + priceColumns + ` FROM price_history` + w.String() + ` ORDER BY auction_date DESC, id DESC`
	if limit > 0 {
		sql += ` LIMIT ` + w.next(limit)
	}

	rows, err := p.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query comparables: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanPrice)
	if err != nil {
		return nil, fmt.Errorf("scan comparables: %w", err)
	}
	return records, nil
}

// -----------------------------------------------------------------------------
// Competitor metrics
// -----------------------------------------------------------------------------

func (p *Postgres) InsertCompetitorMetric(ctx context.Context, m model.CompetitorMetric) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx, `
		INSERT INTO competitor_metrics (
			auction_house, category, avg_sale_price, total_volume, realization_rate,
			date_range_start, date_range_end
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.AuctionHouse, m.Category, m.AvgSalePrice, m.TotalVolume, m.RealizationRate,
		m.DateRangeStart, m.DateRangeEnd,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert competitor metric: %w", err)
	}
	return id, nil
}

func (p *Postgres) ListCompetitorMetrics(ctx context.Context, category string) ([]model.CompetitorMetric, error) {
	w := &whereBuilder{}
	if category != "" {
		w.add("category = $%d", category)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, auction_house, category, avg_sale_price, total_volume, realization_rate,
			date_range_start, date_range_end, created_at
		FROM competitor_metrics`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("query competitor metrics: %w", err)
	}
	metrics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CompetitorMetric, error) {
		var m model.CompetitorMetric
		err := row.Scan(&m.ID, &m.AuctionHouse, &m.Category, &m.AvgSalePrice, &m.TotalVolume,
			&m.RealizationRate, &m.DateRangeStart, &m.DateRangeEnd, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan competitor metrics: %w", err)
	}
	return metrics, nil
}

// -----------------------------------------------------------------------------
// Site cache
// -----------------------------------------------------------------------------

const siteCacheColumns = `source_url, source_name, discovered_urls, last_scraped, expires_at, auction_count, firearms_found`

func scanSiteCache(row pgx.Row) (model.SiteCacheEntry, error) {
	var e model.SiteCacheEntry
	err := row.Scan(&e.SourceURL, &e.SourceName, &e.DiscoveredURLs, &e.LastScraped, &e.ExpiresAt,
		&e.AuctionCount, &e.FirearmsFound)
	return e, err
}

func (p *Postgres) GetSiteCache(ctx context.Context, sourceURL string) (model.SiteCacheEntry, error) {
	e, err := scanSiteCache(p.pool.QueryRow(ctx,
		`SELECT `+siteCacheColumns+` FROM scraping_cache WHERE source_url = $1`, sourceURL))
	if err != nil {
		return e, notFound(err, fmt.Sprintf("site cache %q", sourceURL))
	}
	return e, nil
}

func (p *Postgres) UpsertSiteCache(ctx context.Context, e model.SiteCacheEntry) error {
	urls := e.DiscoveredURLs
	if urls == nil {
		urls = []string{}
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO scraping_cache (`+siteCacheColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_url) DO UPDATE SET
			source_name = EXCLUDED.source_name,
			discovered_urls = EXCLUDED.discovered_urls,
			last_scraped = EXCLUDED.last_scraped,
			expires_at = EXCLUDED.expires_at,
			auction_count = EXCLUDED.auction_count,
			firearms_found = EXCLUDED.firearms_found`,
		e.SourceURL, e.SourceName, urls, e.LastScraped, e.ExpiresAt, e.AuctionCount, e.FirearmsFound)
	if err != nil {
		return fmt.Errorf("upsert site cache %q: %w", e.SourceURL, err)
	}
	return nil
}

func (p *Postgres) ExpireSiteCache(ctx context.Context, sourceURL string, at time.Time) error {
	if _, err := p.pool.Exec(ctx, `UPDATE scraping_cache SET expires_at = $2 WHERE source_url = $1`, sourceURL, at); err != nil {
		return fmt.Errorf("expire site cache %q: %w", sourceURL, err)
	}
	return nil
}

func (p *Postgres) ListSiteCache(ctx context.Context) ([]model.SiteCacheEntry, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+siteCacheColumns+` FROM scraping_cache ORDER BY source_url`)
	if err != nil {
		return nil, fmt.Errorf("query site cache: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.SiteCacheEntry, error) {
		return scanSiteCache(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan site cache: %w", err)
	}
	return entries, nil
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

const alertColumns = `id, user_id, alert_type, criteria, active, last_triggered, created_at`

func scanAlert(row pgx.Row) (model.UserAlert, error) {
	var (
		a        model.UserAlert
		criteria []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.AlertType, &criteria, &a.Active, &a.LastTriggered, &a.CreatedAt); err != nil {
		return a, err
	}
	if err := json.Unmarshal(criteria, &a.Criteria); err != nil {
		return a, fmt.Errorf("decode alert %d criteria: %w", a.ID, err)
	}
	return a, nil
}

func (p *Postgres) CreateAlert(ctx context.Context, a model.UserAlert) (model.UserAlert, error) {
	criteria, err := json.Marshal(a.Criteria)
	if err != nil {
		return a, fmt.Errorf("encode alert criteria: %w", err)
	}
	created, err := scanAlert(p.pool.QueryRow(ctx, `
		INSERT INTO user_alerts (user_id, alert_type, criteria, active)
		VALUES ($1, $2, $3, $4)
		RETURNING `+alertColumns, a.UserID, a.AlertType, criteria, a.Active))
	if err != nil {
		return a, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

func (p *Postgres) GetAlert(ctx context.Context, id int64) (model.UserAlert, error) {
	a, err := scanAlert(p.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM user_alerts WHERE id = $1`, id))
	if err != nil {
		return a, notFound(err, fmt.Sprintf("alert %d", id))
	}
	return a, nil
}

func (p *Postgres) UpdateAlert(ctx context.Context, id int64, criteria model.AlertCriteria, active *bool) (model.UserAlert, error) {
	data, err := json.Marshal(criteria)
	if err != nil {
		return model.UserAlert{}, fmt.Errorf("encode alert criteria: %w", err)
	}
	a, err := scanAlert(p.pool.QueryRow(ctx, `
		UPDATE user_alerts SET criteria = $2, active = COALESCE($3, active)
		WHERE id = $1
		RETURNING `+alertColumns, id, data, active))
	if err != nil {
		return a, notFound(err, fmt.Sprintf("alert %d", id))
	}
	return a, nil
}

func (p *Postgres) DeleteAlert(ctx context.Context, id int64) error {
	return p.exec(ctx, "delete alert", id, `DELETE FROM user_alerts WHERE id = $1`, id)
}

func (p *Postgres) listAlerts(ctx context.Context, where string, args ...any) ([]model.UserAlert, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+alertColumns+` FROM user_alerts WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UserAlert, error) {
		return scanAlert(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	return alerts, nil
}

func (p *Postgres) ListAlertsByUser(ctx context.Context, userID int64) ([]model.UserAlert, error) {
	return p.listAlerts(ctx, `user_id = $1`, userID)
}

func (p *Postgres) ListActiveAlerts(ctx context.Context) ([]model.UserAlert, error) {
	return p.listAlerts(ctx, `active`)
}

func (p *Postgres) TouchAlert(ctx context.Context, id int64, at time.Time) error {
	return p.exec(ctx, "touch alert", id, `UPDATE user_alerts SET last_triggered = $2 WHERE id = $1`, id, at)
}

var _ Store = (*Postgres)(nil)
