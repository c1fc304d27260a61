package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-hail/internal/dispatch"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/realtime"
	"github.com/example/ride-hail/internal/ride"
	"github.com/example/ride-hail/internal/store"
)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type requestRideBody struct {
	PassengerID    string       `json:"passenger_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	Pickup         models.Place `json:"pickup"`
	Drop           models.Place `json:"drop"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var body requestRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	created, err := s.rides.Request(r.Context(), ride.RequestInput{
		PassengerID:    body.PassengerID,
		IdempotencyKey: body.IdempotencyKey,
		Pickup:         body.Pickup,
		Drop:           body.Drop,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleGetRide returns the row shaped for the requesting user: the OTP is
// included only in the passenger's own view.
func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	row, err := s.rideStore.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideViewFor(r.URL.Query().Get("user_id"), row))
}

// handlePendingRides is the authoritative re-fetch for a driver's candidate
// list, used on reconnect before trusting further websocket events.
func (s *Server) handlePendingRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.rideStore.ListByStatus(r.Context(), models.StatusPending)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	for _, pr := range rides {
		pr.OTP = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	updated, err := s.rides.Cancel(r.Context(), mux.Vars(r)["id"], body.Actor)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	viewer := ""
	if body.Actor != "driver" {
		viewer = updated.PassengerID
	}
	writeJSON(w, http.StatusOK, rideViewFor(viewer, updated))
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	updated, err := s.engine.Accept(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideViewFor(body.DriverID, updated))
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	updated, err := s.rides.Arrive(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideViewFor(body.DriverID, updated))
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
		OTP      string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	updated, err := s.rides.Start(r.Context(), mux.Vars(r)["id"], body.DriverID, body.OTP)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideViewFor(body.DriverID, updated))
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	updated, err := s.rides.Complete(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rideViewFor(body.DriverID, updated))
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	rv, err := s.rides.SubmitReview(r.Context(), mux.Vars(r)["id"], body.Stars, body.Comment)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.AvailabilityStatus `json:"status"`
		Lat    float64                   `json:"lat"`
		Lng    float64                   `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if body.Status != models.DriverOnline && body.Status != models.DriverOffline {
		writeError(w, http.StatusBadRequest, "bad_status", "status must be online or offline")
		return
	}
	if err := s.engine.SetAvailability(r.Context(), mux.Vars(r)["id"], body.Status, body.Lat, body.Lng); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDriverLocation is the high-frequency location watcher sink. It
// upserts the driver's row and forwards the update onto kafka when a broker
// is configured.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.DriverLocation
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}
	if loc.DriverID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "driver_id required")
		return
	}
	if loc.Status == "" {
		loc.Status = models.DriverOnline
	}
	loc.LastUpdated = time.Now()
	if err := s.locations.Upsert(r.Context(), loc); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("kafka publish failed", "driver_id", loc.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWS upgrades the connection and streams the user's ride changes plus
// location updates for the driver on their active ride. The party driver is
// learned from the ride stream itself, so a reconnecting client must re-fetch
// authoritative state before trusting the stream again.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	// Subscribe before the handshake completes: once the client sees 101,
	// every later commit is on the channel.
	sub := s.bridge.Subscribe(realtime.TopicRides, func(c realtime.Change) bool {
		row, ok := c.New.(*models.Ride)
		if !ok {
			return false
		}
		return row.PassengerID == userID || row.DriverID == userID
	})
	locSub := s.bridge.Subscribe(realtime.TopicDriverLocations, nil)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		sub.Unsubscribe()
		locSub.Unsubscribe()
		s.logger.Warn("ws upgrade failed", "user_id", userID, "error", err)
		return
	}
	s.ws.Add(userID, conn)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Drain control/ping frames; exit when the peer goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			sub.Unsubscribe()
			locSub.Unsubscribe()
			s.ws.Remove(userID)
			_ = conn.Close()
		}()
		var partyDriver string
		for {
			select {
			case c, ok := <-sub.Events():
				if !ok {
					return
				}
				row, ok := c.New.(*models.Ride)
				if !ok {
					continue
				}
				if row.PassengerID == userID {
					if row.Status.Terminal() {
						partyDriver = ""
					} else {
						partyDriver = row.DriverID
					}
				}
				msg := map[string]any{
					"type": "ride_changed",
					"old":  rideViewAny(userID, c.Old),
					"new":  rideViewFor(userID, row),
				}
				if err := s.ws.Send(userID, msg); err != nil {
					return
				}
			case c, ok := <-locSub.Events():
				if !ok {
					return
				}
				loc, ok := c.New.(*models.DriverLocation)
				if !ok {
					continue
				}
				if loc.DriverID != userID && loc.DriverID != partyDriver {
					continue
				}
				if err := s.ws.Send(userID, map[string]any{"type": "driver_location", "new": loc}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

// rideViewFor copies the row for delivery to userID. The OTP is the
// passenger's presence proof at pickup; everyone else sees the row without it.
func rideViewFor(userID string, r *models.Ride) *models.Ride {
	cp := *r
	if userID == "" || userID != cp.PassengerID {
		cp.OTP = ""
	}
	return &cp
}

func rideViewAny(userID string, v any) any {
	if r, ok := v.(*models.Ride); ok {
		return rideViewFor(userID, r)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeDomainError maps the error taxonomy onto HTTP statuses: validation
// 400, conflicts 409, eligibility 403, missing rows 404.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ride.ErrInvalidOTP):
		writeError(w, http.StatusBadRequest, "invalid_otp", "submitted OTP does not match")
	case errors.Is(err, ride.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, dispatch.ErrRideTaken):
		writeError(w, http.StatusConflict, "ride_taken", "ride was already accepted by another driver")
	case errors.Is(err, ride.ErrInvalidTransition), errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, dispatch.ErrNotApproved), errors.Is(err, ride.ErrNotDriver):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}
