package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vehicle-generator-service/generator/internal/models"
	"vehicle-generator-service/generator/internal/vehicles"
)

const vehicleColumns = "id, organization_id, name, description, active, created_by, created_at, updated_by, updated_at"

// Sortable fields exposed to clients, mapped to columns. Anything else
// falls back to the default ordering.
var sortColumns = map[string]string{
	"metadata.createdAt": "created_at",
	"metadata.updatedAt": "updated_at",
	"name":               "name",
}

type VehiclesRepo struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewVehiclesRepo(pool *pgxpool.Pool, queryTimeout time.Duration) *VehiclesRepo {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &VehiclesRepo{pool: pool, queryTimeout: queryTimeout}
}

func (r *VehiclesRepo) Get(ctx context.Context, id string, organizationID string) (*models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	var v models.Vehicle
	err := r.pool.QueryRow(ctx, `
		SELECT `+vehicleColumns+`
		FROM vehicles
		WHERE id = $1 AND organization_id = $2
	`, id, organizationID).Scan(scanTargets(&v)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return &v, nil
}

func (r *VehiclesRepo) List(ctx context.Context, filter models.VehicleFilter, page models.Pagination, sort *models.Sort) ([]models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	where, args := buildFilter(filter)

	orderBy := "created_at DESC"
	if sort != nil {
		if col, ok := sortColumns[sort.Field]; ok {
			dir := "DESC"
			if sort.Asc {
				dir = "ASC"
			}
			orderBy = col + " " + dir
		}
	}

	count := page.Count
	if count <= 0 {
		count = 25
	}
	offset := page.Page * count
	if offset < 0 {
		offset = 0
	}
	args = append(args, count, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM vehicles
		%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d
	`, vehicleColumns, where, orderBy, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	defer rows.Close()

	var listing []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		if err := rows.Scan(scanTargets(&v)...); err != nil {
			return nil, mapStorageErr(err)
		}
		listing = append(listing, v)
	}
	return listing, mapStorageErr(rows.Err())
}

func (r *VehiclesRepo) Count(ctx context.Context, filter models.VehicleFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	where, args := buildFilter(filter)
	var total int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vehicles "+where, args...).Scan(&total)
	return total, mapStorageErr(err)
}

func (r *VehiclesRepo) Create(ctx context.Context, id string, input models.VehicleInput, actor string) (models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	now := time.Now().UTC()
	var v models.Vehicle
	err := r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (id, organization_id, name, description, active, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $6, $7)
		RETURNING `+vehicleColumns+`
	`, id, deref(input.OrganizationID), deref(input.Name), deref(input.Description), derefBool(input.Active), actor, now).
		Scan(scanTargets(&v)...)
	return v, mapStorageErr(err)
}

func (r *VehiclesRepo) Update(ctx context.Context, id string, input models.VehicleInput, actor string, mode vehicles.UpdateMode) (*models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	set := []string{}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if mode == vehicles.UpdateReplace {
		// A replace overwrites every mutable field, absent inputs
		// included, so stale values cannot survive the update.
		add("organization_id", deref(input.OrganizationID))
		add("name", deref(input.Name))
		add("description", deref(input.Description))
		add("active", derefBool(input.Active))
	} else {
		if input.OrganizationID != nil {
			add("organization_id", *input.OrganizationID)
		}
		if input.Name != nil {
			add("name", *input.Name)
		}
		if input.Description != nil {
			add("description", *input.Description)
		}
		if input.Active != nil {
			add("active", *input.Active)
		}
	}
	add("updated_by", actor)
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf(`
		UPDATE vehicles
		SET %s
		WHERE id = $1
		RETURNING %s
	`, strings.Join(set, ", "), vehicleColumns)

	var v models.Vehicle
	err := r.pool.QueryRow(ctx, query, args...).Scan(scanTargets(&v)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return &v, nil
}

func (r *VehiclesRepo) DeleteMany(ctx context.Context, ids []string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, "DELETE FROM vehicles WHERE id = ANY($1)", ids)
	if err != nil {
		return false, mapStorageErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *VehiclesRepo) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, "DELETE FROM vehicles WHERE id = $1", id)
	return mapStorageErr(err)
}

// RecoveryUpsert writes exactly the fields carried by a replayed event,
// inserting or overwriting so repeated replays converge.
func (r *VehiclesRepo) RecoveryUpsert(ctx context.Context, id string, v models.Vehicle) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO vehicles (id, organization_id, name, description, active, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			active = EXCLUDED.active,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, id, v.OrganizationID, v.Name, v.Description, v.Active,
		v.Metadata.CreatedBy, v.Metadata.CreatedAt, v.Metadata.UpdatedBy, v.Metadata.UpdatedAt)
	return mapStorageErr(err)
}

// CreateGenerated is insert-or-ignore on the identity column. Colliding
// synthetic vehicles are already present with identical fields, so the
// no-op is the correct outcome, not an error to detect.
func (r *VehiclesRepo) CreateGenerated(ctx context.Context, id string, v models.GeneratedVehicle) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO generated_vehicles (id, type, power_source, hp, year, top_speed, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, id, v.Type, v.PowerSource, v.HP, v.Year, v.TopSpeed, time.Now().UTC())
	return mapStorageErr(err)
}

func scanTargets(v *models.Vehicle) []any {
	return []any{
		&v.ID, &v.OrganizationID, &v.Name, &v.Description, &v.Active,
		&v.Metadata.CreatedBy, &v.Metadata.CreatedAt, &v.Metadata.UpdatedBy, &v.Metadata.UpdatedAt,
	}
}

func buildFilter(filter models.VehicleFilter) (string, []any) {
	clauses := []string{}
	args := []any{}

	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// mapStorageErr tags timeouts with the distinguished storage-timeout
// error so the dispatcher can re-raise them past normalization.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &pgErr) && pgErr.Code == "57014") ||
		pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", vehicles.ErrStorageTimeout, err)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefBool(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}
