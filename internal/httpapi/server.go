// Package httpapi exposes the ride lifecycle over HTTP and websockets.
package httpapi

import (
	"database/sql"
	"log/slog"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hail/internal/config"
	"github.com/example/ride-hail/internal/directions"
	"github.com/example/ride-hail/internal/dispatch"
	"github.com/example/ride-hail/internal/geofence"
	"github.com/example/ride-hail/internal/ingest"
	"github.com/example/ride-hail/internal/logging"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/payments"
	"github.com/example/ride-hail/internal/realtime"
	"github.com/example/ride-hail/internal/ride"
	"github.com/example/ride-hail/internal/store"
)

type Server struct {
	cfg       config.ServerConfig
	logger    *slog.Logger
	rides     *ride.Service
	engine    *dispatch.Engine
	bridge    *realtime.Bridge
	ws        *realtime.WSRegistry
	rideStore store.RideStore
	locations store.LocationStore
	kafka     *ingest.KafkaProducer
	mux       *mux.Router
}

// NewServerFromConfig wires the full dependency graph with fallbacks: redis
// GEO when REDIS_ADDR is set, postgres when PG_DSN is set, in-memory stores
// otherwise; Google directions when a key is present, then OSRM, then the
// straight-line fallback alone.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var rideStore store.RideStore
	var docs store.DocsReader
	var reviews store.ReviewStore
	if cfg.PGDSN != "" {
		db, err := sql.Open("postgres", cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			return nil, err
		}
		rideStore = store.NewPostgresRideStoreWithDB(db)
		docs = store.NewPostgresDocsStore(db)
		reviews = store.NewPostgresReviewStore(db)
	} else {
		rideStore = store.NewMemoryRideStore()
		docs = store.NewMemoryDocsStore()
		reviews = store.NewMemoryReviewStore()
	}

	var locations store.LocationStore
	if cfg.RedisAddr != "" {
		locations = store.NewRedisLocationStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.DispatchRadiusM)
	} else {
		locations = store.NewMemoryLocationStore()
	}

	var provider directions.Provider
	if cfg.GoogleMapsAPIKey != "" {
		g, err := directions.NewGoogleClient(cfg.GoogleMapsAPIKey)
		if err != nil {
			return nil, err
		}
		provider = g
	} else if cfg.OSRMEndpoint != "" {
		provider = directions.NewOSRMClient(cfg.OSRMEndpoint)
	}

	var resolver *geofence.Resolver
	if cfg.PolygonsPath != "" {
		polys, err := geofence.LoadPolygons(cfg.PolygonsPath)
		if err != nil {
			return nil, err
		}
		resolver = geofence.NewResolver(polys, nil)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	bridge := realtime.NewBridge(64)
	wsreg := realtime.NewWSRegistry(logging.ForComponent(logger, "ws"))

	// Change-data-capture: store commits feed the bridge; nothing else
	// publishes.
	rideStore.OnChange(func(old, new *models.Ride) {
		bridge.Publish(realtime.Change{Topic: realtime.TopicRides, Key: new.ID, Old: anyOrNil(old), New: new})
	})
	locations.OnChange(func(old, new *models.DriverLocation) {
		bridge.Publish(realtime.Change{Topic: realtime.TopicDriverLocations, Key: new.DriverID, Old: anyOrNil(old), New: new})
	})

	engine := &dispatch.Engine{
		Rides:     rideStore,
		Locations: locations,
		Docs:      docs,
		WS:        wsreg,
		Logger:    logging.ForComponent(logger, "dispatch"),
		TopN:      cfg.DispatchTopN,
	}

	// Settlement stays off without a stripe key; Complete skips the charge.
	var charger ride.Charger
	if cfg.StripeAPIKey != "" {
		charger = payments.NewStripeClient(cfg.StripeAPIKey, cfg.FareCurrency)
	}

	rides := &ride.Service{
		Rides:         rideStore,
		Locations:     locations,
		Reviews:       reviews,
		Directions:    &directions.WithFallback{Provider: provider, Logger: logger},
		Geofence:      resolver,
		Dispatch:      engine,
		Payments:      charger,
		Logger:        logging.ForComponent(logger, "ride"),
		AcceptTimeout: cfg.AcceptTimeout,
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		rides:     rides,
		engine:    engine,
		bridge:    bridge,
		ws:        wsreg,
		rideStore: rideStore,
		locations: locations,
		kafka:     kp,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

// Rides exposes the lifecycle service for the watchdog goroutine in main.
func (s *Server) Rides() *ride.Service { return s.rides }

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleRequestRide).Methods("POST")
	api.HandleFunc("/rides/pending", s.handlePendingRides).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{id}/arrived", s.handleArrived).Methods("POST")
	api.HandleFunc("/rides/{id}/start", s.handleStartRide).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.handleCompleteRide).Methods("POST")
	api.HandleFunc("/rides/{id}/review", s.handleReview).Methods("POST")
	api.HandleFunc("/drivers/{id}/availability", s.handleAvailability).Methods("POST")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

var upgrader = websocket.Upgrader{}

func anyOrNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}
