package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/example/ride-hail/internal/models"
)

var rideCols = []string{
	"id", "idempotency_key", "passenger_id", "driver_id",
	"pickup_lat", "pickup_lng", "pickup_address", "drop_lat", "drop_lng", "drop_address",
	"fare_estimate", "fare_final", "otp", "status", "cancellation_reason", "created_at", "completed_at",
}

func pendingRow(mock sqlmock.Sqlmock, id string) *sqlmock.Rows {
	return mock.NewRows(rideCols).AddRow(
		id, nil, "p1", nil,
		1.0, 1.0, "a", 2.0, 2.0, "b",
		int64(60), nil, nil, "pending", nil, time.Now(), nil,
	)
}

func TestPostgresConditionalUpdateWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgresRideStoreWithDB(db)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").
		WithArgs("r1").WillReturnRows(pendingRow(mock, "r1"))
	mock.ExpectExec("UPDATE rides SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	accepted := mock.NewRows(rideCols).AddRow(
		"r1", nil, "p1", "d1",
		1.0, 1.0, "a", 2.0, 2.0, "b",
		int64(60), nil, "123456", "accepted", nil, time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").
		WithArgs("r1").WillReturnRows(accepted)

	d := "d1"
	otp := "123456"
	got, err := s.ConditionalUpdate(context.Background(), "r1", models.StatusPending, Patch{
		Status: models.StatusAccepted, DriverID: &d, OTP: &otp,
	})
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if got.Status != models.StatusAccepted || got.DriverID != "d1" || got.OTP != "123456" {
		t.Fatalf("unexpected ride: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresConditionalUpdateLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgresRideStoreWithDB(db)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").
		WithArgs("r1").WillReturnRows(pendingRow(mock, "r1"))
	// Status moved between read and write: zero rows affected.
	mock.ExpectExec("UPDATE rides SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	d := "d2"
	_, err = s.ConditionalUpdate(context.Background(), "r1", models.StatusPending, Patch{
		Status: models.StatusAccepted, DriverID: &d,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresCreateDuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgresRideStoreWithDB(db)

	mock.ExpectExec("INSERT INTO rides").
		WillReturnError(&pq.Error{Code: "23505"}) // unique_violation

	r := &models.Ride{
		ID: "r2", IdempotencyKey: "k1", PassengerID: "p1",
		Pickup: models.Place{Lat: 1, Lng: 1, Address: "a"},
		Drop:   models.Place{Lat: 2, Lng: 2, Address: "b"},
		Status: models.StatusPending, FareEstimate: 60, CreatedAt: time.Now(),
	}
	if err := s.Create(context.Background(), r); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := NewPostgresRideStoreWithDB(db)

	mock.ExpectQuery("SELECT (.+) FROM rides WHERE id").
		WithArgs("missing").WillReturnRows(mock.NewRows(rideCols))

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresDocsStatusDefaultsToNotSubmitted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	docs := NewPostgresDocsStore(db)

	mock.ExpectQuery("SELECT status FROM driver_docs").
		WithArgs("d-new").WillReturnRows(mock.NewRows([]string{"status"}))

	got, err := docs.Status(context.Background(), "d-new")
	if err != nil {
		t.Fatal(err)
	}
	if got != models.DocsNotSubmitted {
		t.Fatalf("status = %s, want not_submitted", got)
	}
}
