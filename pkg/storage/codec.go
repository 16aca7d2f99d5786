package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
)

// listingColumns is the column order shared by the SQL backends
var listingColumns = []string{
	"ad_id", "url", "category", "title",
	"price_huf", "price_discount_huf", "currency",
	"year", "year_month", "mileage_km", "fuel", "engine_cc", "power_kw", "power_hp",
	"transmission", "drivetrain", "body_type", "color", "condition", "doors", "seats",
	"seller_name", "seller_type", "location", "description",
	"equipment_json", "images_json", "attributes_json",
	"raw_html", "content_hash", "first_seen_at", "last_seen_at",
}

// immutableColumns keep their stored value on conflict
var immutableColumns = map[string]bool{"ad_id": true, "first_seen_at": true}

var runColumns = []string{
	"run_id", "started_at", "finished_at",
	"fetched", "denied", "failed", "parse_failed", "stored", "skipped", "cancelled",
	"failure_categories_json",
}

// upsertSQL builds the INSERT .. ON CONFLICT(ad_id) statement. The syntax is shared by SQLite and Postgres.
func upsertSQL(placeholder func(n int) string) string {
	var ph, set []string
	for i, c := range listingColumns {
		ph = append(ph, placeholder(i+1))
		switch {
		case immutableColumns[c]:
		case c == "raw_html":
			set = append(set, "raw_html = COALESCE(excluded.raw_html, listings.raw_html)")
		default:
			set = append(set, c+" = excluded."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO listings (%s) VALUES (%s) ON CONFLICT(ad_id) DO UPDATE SET %s",
		strings.Join(listingColumns, ", "), strings.Join(ph, ", "), strings.Join(set, ", "))
}

func insertRunSQL(placeholder func(n int) string) string {
	ph := make([]string, len(runColumns))
	for i := range runColumns {
		ph[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO crawl_runs (%s) VALUES (%s)", strings.Join(runColumns, ", "), strings.Join(ph, ", "))
}

// listingArgs returns the values for listingColumns. ts converts timestamps to the backend's representation.
func listingArgs(l *models.Listing, ts func(time.Time) any) ([]any, error) {
	equipment, err := marshalJSON(nonNilSlice(l.Equipment))
	if err != nil {
		return nil, err
	}
	images, err := marshalJSON(nonNilSlice(l.Images))
	if err != nil {
		return nil, err
	}
	attrs := l.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attributes, err := marshalJSON(attrs)
	if err != nil {
		return nil, err
	}
	return []any{
		l.AdID, l.URL, l.Category, l.Title,
		l.PriceHUF, l.PriceDiscountHUF, l.Currency,
		l.Year, l.YearMonth, l.MileageKM, l.Fuel, l.EngineCC, l.PowerKW, l.PowerHP,
		l.Transmission, l.Drivetrain, l.BodyType, l.Color, l.Condition, l.Doors, l.Seats,
		l.SellerName, l.SellerType, l.Location, l.Description,
		equipment, images, attributes,
		l.RawHTML, l.ContentHash, ts(l.FirstSeenAt), ts(l.LastSeenAt),
	}, nil
}

// listingRow holds the columns that need decoding after Scan
type listingRow struct {
	equipment, images, attributes string
}

// scanDest returns Scan destinations in listingColumns order. first and last receive the timestamps.
func (r *listingRow) scanDest(l *models.Listing, first, last any) []any {
	return []any{
		&l.AdID, &l.URL, &l.Category, &l.Title,
		&l.PriceHUF, &l.PriceDiscountHUF, &l.Currency,
		&l.Year, &l.YearMonth, &l.MileageKM, &l.Fuel, &l.EngineCC, &l.PowerKW, &l.PowerHP,
		&l.Transmission, &l.Drivetrain, &l.BodyType, &l.Color, &l.Condition, &l.Doors, &l.Seats,
		&l.SellerName, &l.SellerType, &l.Location, &l.Description,
		&r.equipment, &r.images, &r.attributes,
		&l.RawHTML, &l.ContentHash, first, last,
	}
}

func (r *listingRow) decode(l *models.Listing) error {
	if err := json.Unmarshal([]byte(r.equipment), &l.Equipment); err != nil {
		return fmt.Errorf("decode equipment_json of %s: %w", l.AdID, err)
	}
	if err := json.Unmarshal([]byte(r.images), &l.Images); err != nil {
		return fmt.Errorf("decode images_json of %s: %w", l.AdID, err)
	}
	if err := json.Unmarshal([]byte(r.attributes), &l.Attributes); err != nil {
		return fmt.Errorf("decode attributes_json of %s: %w", l.AdID, err)
	}
	return nil
}

// searchWhere builds the WHERE clause for q. likeOp is "LIKE" or "ILIKE".
func searchWhere(q SearchQuery, placeholder func(n int) string, likeOp string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}
	if t := strings.TrimSpace(q.Text); t != "" {
		add("title "+likeOp+" %s", "%"+t+"%")
	}
	if q.Category != "" {
		add("category = %s", q.Category)
	}
	if q.Fuel != "" {
		add("fuel = %s", q.Fuel)
	}
	if q.MinPrice > 0 {
		add("price_huf >= %s", q.MinPrice)
	}
	if q.MaxPrice > 0 {
		add("price_huf <= %s", q.MaxPrice)
	}
	if q.MinYear > 0 {
		add("year >= %s", q.MinYear)
	}
	if q.MaxYear > 0 {
		add("year <= %s", q.MaxYear)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
