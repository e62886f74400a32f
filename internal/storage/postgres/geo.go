package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localpages/dirworker/internal/directory"
)

type geoStore struct{ *Store }

func collectStates(rows pgx.Rows) ([]directory.State, error) {
	defer rows.Close()
	var out []directory.State
	for rows.Next() {
		var st directory.State
		if err := rows.Scan(&st.ID, &st.Slug, &st.Name, &st.USPSCode); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return out, nil
}

func collectCities(rows pgx.Rows) ([]directory.City, error) {
	defer rows.Close()
	var out []directory.City
	for rows.Next() {
		var c directory.City
		if err := rows.Scan(&c.ID, &c.StateID, &c.Slug, &c.Name); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cities: %w", err)
	}
	return out, nil
}

func (s *geoStore) StatesBySlugs(ctx context.Context, slugs []string) ([]directory.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, name, usps_code FROM states WHERE slug = ANY($1) ORDER BY slug`, slugs)
	if err != nil {
		return nil, fmt.Errorf("list states by slugs: %w", err)
	}
	return collectStates(rows)
}

func (s *geoStore) FindStateByUSPS(ctx context.Context, usps string) (*directory.State, error) {
	var st directory.State
	err := s.pool.QueryRow(ctx,
		`SELECT id, slug, name, usps_code FROM states WHERE upper(usps_code) = upper($1)`, usps).
		Scan(&st.ID, &st.Slug, &st.Name, &st.USPSCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find state by usps %s: %w", usps, err)
	}
	return &st, nil
}

func (s *geoStore) CitiesForState(ctx context.Context, stateID string) ([]directory.City, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, state_id, slug, name FROM cities WHERE state_id = $1 ORDER BY slug`, stateID)
	if err != nil {
		return nil, fmt.Errorf("list cities for state %s: %w", stateID, err)
	}
	return collectCities(rows)
}

func (s *geoStore) FindCityByName(ctx context.Context, stateID, name string) (*directory.City, error) {
	var c directory.City
	err := s.pool.QueryRow(ctx,
		`SELECT id, state_id, slug, name FROM cities WHERE state_id = $1 AND lower(name) = lower($2)`,
		stateID, name).Scan(&c.ID, &c.StateID, &c.Slug, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find city %s in state %s: %w", name, stateID, err)
	}
	return &c, nil
}

func (s *geoStore) CitiesBySlugs(ctx context.Context, stateID string, slugs []string) ([]directory.City, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, state_id, slug, name FROM cities WHERE state_id = $1 AND slug = ANY($2) ORDER BY slug`,
		stateID, slugs)
	if err != nil {
		return nil, fmt.Errorf("list cities by slugs: %w", err)
	}
	return collectCities(rows)
}

func (s *geoStore) PrimaryLocation(ctx context.Context, listingID string) (*directory.Location, error) {
	var loc directory.Location
	err := s.pool.QueryRow(ctx, `
SELECT id, listing_id, city_id, is_primary, street, postal, lat, lng, deleted_at
FROM locations
WHERE listing_id = $1 AND is_primary AND deleted_at IS NULL`, listingID).
		Scan(&loc.ID, &loc.ListingID, &loc.CityID, &loc.Primary, &loc.Street,
			&loc.Postal, &loc.Lat, &loc.Lng, &loc.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("primary location %s: %w", listingID, err)
	}
	return &loc, nil
}

func (s *geoStore) CreatePrimaryLocation(ctx context.Context, listingID, cityID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO locations (id, listing_id, city_id, is_primary)
SELECT $1, $2, $3, TRUE
WHERE NOT EXISTS (
	SELECT 1 FROM locations WHERE listing_id = $2 AND is_primary AND deleted_at IS NULL
)`, s.ids.NewID(), listingID, cityID)
	if err != nil {
		return fmt.Errorf("create primary location %s: %w", listingID, err)
	}
	return nil
}

func (s *geoStore) FillCoordinates(ctx context.Context, locationID string, lat, lng float64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE locations SET lat = $2, lng = $3
WHERE id = $1 AND lat IS NULL AND lng IS NULL`, locationID, lat, lng)
	if err != nil {
		return fmt.Errorf("fill coordinates %s: %w", locationID, err)
	}
	return nil
}

func (s *geoStore) FillAddress(ctx context.Context, locationID, street, postal string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE locations SET
	street = CASE WHEN street = '' AND $2 <> '' THEN $2 ELSE street END,
	postal = CASE WHEN postal = '' AND $3 <> '' THEN $3 ELSE postal END
WHERE id = $1`, locationID, street, postal)
	if err != nil {
		return fmt.Errorf("fill address %s: %w", locationID, err)
	}
	return nil
}

func (s *geoStore) CityWithState(ctx context.Context, cityID string) (*directory.City, *directory.State, error) {
	var c directory.City
	var st directory.State
	err := s.pool.QueryRow(ctx, `
SELECT c.id, c.state_id, c.slug, c.name, s.id, s.slug, s.name, s.usps_code
FROM cities c JOIN states s ON s.id = c.state_id
WHERE c.id = $1`, cityID).
		Scan(&c.ID, &c.StateID, &c.Slug, &c.Name, &st.ID, &st.Slug, &st.Name, &st.USPSCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("city with state %s: %w", cityID, err)
	}
	return &c, &st, nil
}
