// ABOUTME: Coffee-tracking persistence methods for the SQL store
// ABOUTME: Roasters, bags, and brews; the write paths are what the auth middleware protects

package store

import (
	"context"
	"fmt"
)

// CreateRoaster stores a new roaster.
func (s *SQLStore) CreateRoaster(ctx context.Context, roaster *Roaster) error {
	query := s.rebind(`
		INSERT INTO roasters (id, name, country, created_at)
		VALUES (?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		roaster.ID,
		roaster.Name,
		nullString(roaster.Country),
		fmtTime(roaster.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("roaster %q already exists", roaster.Name)
		}
		return fmt.Errorf("inserting roaster: %w", err)
	}

	s.logger.Info("created roaster", "id", roaster.ID, "name", roaster.Name)
	return nil
}

// ListRoasters returns all roasters ordered by name.
func (s *SQLStore) ListRoasters(ctx context.Context) ([]*Roaster, error) {
	query := `
		SELECT id, name, country, created_at
		FROM roasters
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying roasters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var roasters []*Roaster
	for rows.Next() {
		var r Roaster
		var country *string
		var createdAtStr string

		if err := rows.Scan(&r.ID, &r.Name, &country, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning roaster: %w", err)
		}

		if country != nil {
			r.Country = *country
		}
		r.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		roasters = append(roasters, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roasters: %w", err)
	}

	return roasters, nil
}

// CreateBag stores a new bag of coffee.
func (s *SQLStore) CreateBag(ctx context.Context, bag *Bag) error {
	query := s.rebind(`
		INSERT INTO bags (id, roaster_id, name, roast_level, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		bag.ID,
		bag.RoasterID,
		bag.Name,
		nullString(bag.RoastLevel),
		fmtTime(bag.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting bag: %w", err)
	}

	s.logger.Info("created bag", "id", bag.ID, "name", bag.Name)
	return nil
}

// ListBags returns all bags, newest first.
func (s *SQLStore) ListBags(ctx context.Context) ([]*Bag, error) {
	query := `
		SELECT id, roaster_id, name, roast_level, created_at
		FROM bags
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying bags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bags []*Bag
	for rows.Next() {
		var b Bag
		var roastLevel *string
		var createdAtStr string

		if err := rows.Scan(&b.ID, &b.RoasterID, &b.Name, &roastLevel, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning bag: %w", err)
		}

		if roastLevel != nil {
			b.RoastLevel = *roastLevel
		}
		b.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		bags = append(bags, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bags: %w", err)
	}

	return bags, nil
}

// CreateBrew stores a new brew log entry.
func (s *SQLStore) CreateBrew(ctx context.Context, brew *Brew) error {
	query := s.rebind(`
		INSERT INTO brews (id, bag_id, method, dose_g, yield_g, notes, brewed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		brew.ID,
		brew.BagID,
		brew.Method,
		brew.DoseG,
		brew.YieldG,
		nullString(brew.Notes),
		fmtTime(brew.BrewedAt),
		fmtTime(brew.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting brew: %w", err)
	}

	s.logger.Info("created brew", "id", brew.ID, "method", brew.Method)
	return nil
}

// ListBrews returns the most recent brews, newest first. A limit of 0 means
// no limit.
func (s *SQLStore) ListBrews(ctx context.Context, limit int) ([]*Brew, error) {
	query := `
		SELECT id, bag_id, method, dose_g, yield_g, notes, brewed_at, created_at
		FROM brews
		ORDER BY brewed_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying brews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var brews []*Brew
	for rows.Next() {
		var b Brew
		var notes *string
		var brewedAtStr, createdAtStr string

		if err := rows.Scan(&b.ID, &b.BagID, &b.Method, &b.DoseG, &b.YieldG, &notes, &brewedAtStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning brew: %w", err)
		}

		if notes != nil {
			b.Notes = *notes
		}
		b.BrewedAt, err = parseTime(brewedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing brewed_at: %w", err)
		}
		b.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		brews = append(brews, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating brews: %w", err)
	}

	return brews, nil
}
