package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-hail/internal/models"
)

// PostgresRideStore persists rides with lib/pq. The accept race is resolved
// by the database: UPDATE ... WHERE status = expected affects one row for
// exactly one caller.
type PostgresRideStore struct {
	db     *sql.DB
	hooks  []ChangeFunc
	hookMu sync.RWMutex
}

func NewPostgresRideStore(dsn string) (*PostgresRideStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresRideStore{db: db}, nil
}

// NewPostgresRideStoreWithDB wires an existing handle; used by tests.
func NewPostgresRideStoreWithDB(db *sql.DB) *PostgresRideStore {
	return &PostgresRideStore{db: db}
}

func (p *PostgresRideStore) OnChange(fn ChangeFunc) {
	p.hookMu.Lock()
	defer p.hookMu.Unlock()
	p.hooks = append(p.hooks, fn)
}

func (p *PostgresRideStore) emit(old, new *models.Ride) {
	p.hookMu.RLock()
	hooks := p.hooks
	p.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(old, new)
	}
}

const rideColumns = `id, idempotency_key, passenger_id, driver_id,
	pickup_lat, pickup_lng, pickup_address, drop_lat, drop_lng, drop_address,
	fare_estimate, fare_final, otp, status, cancellation_reason, created_at, completed_at`

func (p *PostgresRideStore) Create(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, nullStr(r.IdempotencyKey), r.PassengerID, nullStr(r.DriverID),
		r.Pickup.Lat, r.Pickup.Lng, r.Pickup.Address,
		r.Drop.Lat, r.Drop.Lng, r.Drop.Address,
		r.FareEstimate, r.FareFinal, nullStr(r.OTP), string(r.Status),
		nullStr(r.CancelReason), r.CreatedAt, r.CompletedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert ride: %w", err)
	}
	cp := *r
	p.emit(nil, &cp)
	return nil
}

func (p *PostgresRideStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresRideStore) ByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE idempotency_key = $1`, key)
	return scanRide(row)
}

func (p *PostgresRideStore) ConditionalUpdate(ctx context.Context, id string, expected models.RideStatus, patch Patch) (*models.Ride, error) {
	old, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET
			status = $1,
			driver_id = COALESCE($2, driver_id),
			otp = COALESCE($3, otp),
			fare_final = COALESCE($4, fare_final),
			cancellation_reason = COALESCE($5, cancellation_reason),
			completed_at = COALESCE($6, completed_at)
		WHERE id = $7 AND status = $8`,
		string(patch.Status), patch.DriverID, patch.OTP, patch.FareFinal,
		patch.CancelReason, patch.CompletedAt, id, string(expected))
	if err != nil {
		return nil, fmt.Errorf("conditional update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, ErrConflict
	}
	updated, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.emit(old, updated)
	cp := *updated
	return &cp, nil
}

func (p *PostgresRideStore) ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var idemKey, driverID, otp, cancelReason sql.NullString
	var fareFinal sql.NullInt64
	var completedAt sql.NullTime
	err := row.Scan(
		&r.ID, &idemKey, &r.PassengerID, &driverID,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Pickup.Address,
		&r.Drop.Lat, &r.Drop.Lng, &r.Drop.Address,
		&r.FareEstimate, &fareFinal, &otp, &r.Status,
		&cancelReason, &r.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.IdempotencyKey = idemKey.String
	r.DriverID = driverID.String
	r.OTP = otp.String
	r.CancelReason = cancelReason.String
	if fareFinal.Valid {
		v := fareFinal.Int64
		r.FareFinal = &v
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// PostgresDocsStore reads the verification status rows maintained by the
// document upload flow.
type PostgresDocsStore struct {
	db *sql.DB
}

func NewPostgresDocsStore(db *sql.DB) *PostgresDocsStore { return &PostgresDocsStore{db: db} }

func (p *PostgresDocsStore) Status(ctx context.Context, driverID string) (models.DocsStatus, error) {
	var s string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM driver_docs WHERE driver_id = $1`, driverID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DocsNotSubmitted, nil
	}
	if err != nil {
		return "", err
	}
	return models.DocsStatus(s), nil
}

// PostgresReviewStore appends ride reviews; the unique index on ride_id
// enforces one review per ride.
type PostgresReviewStore struct {
	db *sql.DB
}

func NewPostgresReviewStore(db *sql.DB) *PostgresReviewStore { return &PostgresReviewStore{db: db} }

func (p *PostgresReviewStore) Add(ctx context.Context, rv *models.Review) error {
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_reviews(id, ride_id, stars, comment, created_at)
		VALUES($1,$2,$3,$4,$5)`, rv.ID, rv.RideID, rv.Stars, nullStr(rv.Comment), rv.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (p *PostgresReviewStore) ByRide(ctx context.Context, rideID string) (*models.Review, error) {
	var rv models.Review
	var comment sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT id, ride_id, stars, comment, created_at
		FROM ride_reviews WHERE ride_id = $1`, rideID).
		Scan(&rv.ID, &rv.RideID, &rv.Stars, &comment, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rv.Comment = comment.String
	return &rv, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
