package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/livemap/internal/config"
	"github.com/example/livemap/internal/ingest"
	"github.com/example/livemap/internal/models"
	"github.com/example/livemap/internal/notify"
	"github.com/example/livemap/internal/payments"
	"github.com/example/livemap/internal/places"
	"github.com/example/livemap/internal/realtime"
	"github.com/example/livemap/internal/storage"
	"github.com/example/livemap/internal/store"
)

// Authorizer is the external collaborator deciding group-admin rights for the
// destination-set command.
type Authorizer interface {
	IsGroupAdmin(ctx context.Context, groupID, memberID string) (bool, error)
}

// AllowAll grants every request; used for local runs without the platform's
// membership service.
type AllowAll struct{}

func (AllowAll) IsGroupAdmin(ctx context.Context, groupID, memberID string) (bool, error) {
	return true, nil
}

type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	channel  *realtime.Channel
	registry *realtime.WSRegistry
	gate     *notify.Gate
	places   *places.Client
	events   storage.EventStore
	kafka    *ingest.KafkaProducer
	fuel     *payments.FuelShare
	auth     Authorizer
	mux      *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, channel *realtime.Channel, registry *realtime.WSRegistry, gate *notify.Gate, pc *places.Client, events storage.EventStore, kafka *ingest.KafkaProducer, fuel *payments.FuelShare, auth Authorizer) *Server {
	if auth == nil {
		auth = AllowAll{}
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		channel:  channel,
		registry: registry,
		gate:     gate,
		places:   pc,
		events:   events,
		kafka:    kafka,
		fuel:     fuel,
		auth:     auth,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/locations", s.handleReportLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/groups/{group_id}/destination", s.handleSetDestination).Methods("PUT")
	s.mux.HandleFunc("/api/v1/groups/{group_id}/sos", s.handleSOS).Methods("POST")
	s.mux.HandleFunc("/api/v1/groups/{group_id}/suggestions", s.handleSuggestions).Methods("GET")
	s.mux.HandleFunc("/api/v1/carpool/accept", s.handleAcceptCarpool).Methods("POST")
	s.mux.HandleFunc("/api/v1/carpool/complete", s.handleCompleteCarpool).Methods("POST")
	s.mux.HandleFunc("/api/v1/carpool/cancel", s.handleCancelCarpool).Methods("POST")
	s.mux.HandleFunc("/api/v1/places", s.handlePlaceSearch).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{group_id}/{member_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type locationReportRequest struct {
	GroupID  string  `json:"group_id"`
	MemberID string  `json:"member_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var req locationReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.channel.ReportLocation(req.GroupID, req.MemberID, req.Lat, req.Lng); err != nil {
		if errors.Is(err, store.ErrInvalidCoordinate) {
			http.Error(w, "invalid coordinate", http.StatusBadRequest)
			return
		}
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	if s.kafka != nil {
		if err := s.kafka.PublishLocation(ingest.LocationReport{
			GroupID: req.GroupID, MemberID: req.MemberID,
			Lat: req.Lat, Lng: req.Lng, CapturedAt: time.Now(),
		}); err != nil {
			s.logger.Warn("location not published", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type destinationRequest struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]
	memberID := r.Header.Get("X-Member-ID")
	ok, err := s.auth.IsGroupAdmin(r.Context(), groupID, memberID)
	if err != nil {
		http.Error(w, "authorization unavailable", http.StatusBadGateway)
		return
	}
	if !ok {
		http.Error(w, "only group admins can set the destination", http.StatusForbidden)
		return
	}
	var req destinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc := models.Coordinate{Lat: req.Lat, Lng: req.Lng}
	if !loc.Valid() {
		http.Error(w, "invalid coordinate", http.StatusBadRequest)
		return
	}
	s.channel.SetDestination(groupID, models.Destination{GroupID: groupID, Name: req.Name, Loc: loc})
	w.WriteHeader(http.StatusNoContent)
}

type sosRequest struct {
	MemberID string  `json:"member_id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Message  string  `json:"message"`
}

func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]
	var req sosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.channel.SOS(groupID, models.SOSAlert{
		GroupID:  groupID,
		MemberID: req.MemberID,
		Name:     req.Name,
		Loc:      models.Coordinate{Lat: req.Lat, Lng: req.Lng},
		Message:  req.Message,
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["group_id"]
	if s.events == nil {
		writeJSON(w, []models.CarpoolSuggestion{})
		return
	}
	out, err := s.events.RecentSuggestions(r.Context(), groupID, 50)
	if err != nil {
		http.Error(w, "suggestions unavailable", http.StatusInternalServerError)
		return
	}
	if out == nil {
		out = []models.CarpoolSuggestion{}
	}
	writeJSON(w, out)
}

type acceptCarpoolRequest struct {
	PairKey    string  `json:"pair_key"`
	RouteKm    float64 `json:"route_km"`
	Currency   string  `json:"currency"`
	CustomerID string  `json:"customer_id"`
}

// handleAcceptCarpool places a hold for the member's half of the estimated
// fuel cost once they accept a suggestion.
func (s *Server) handleAcceptCarpool(w http.ResponseWriter, r *http.Request) {
	if s.fuel == nil {
		http.Error(w, "payments not configured", http.StatusNotImplemented)
		return
	}
	var req acceptCarpoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "inr"
	}
	amount := s.fuel.ShareAmountMinor(req.RouteKm)
	id, err := s.fuel.Hold(r.Context(), amount, req.Currency, req.CustomerID)
	if err != nil {
		s.logger.Error("fuel share hold failed", "pair_key", req.PairKey, "error", err)
		http.Error(w, "payment hold failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"payment_intent_id": id, "amount_minor": amount, "currency": req.Currency})
}

type carpoolPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// handleCompleteCarpool captures the fuel-share hold after the shared trip.
func (s *Server) handleCompleteCarpool(w http.ResponseWriter, r *http.Request) {
	s.handleCarpoolPayment(w, r, s.fuel.Capture)
}

// handleCancelCarpool releases the hold when the carpool falls through.
func (s *Server) handleCancelCarpool(w http.ResponseWriter, r *http.Request) {
	s.handleCarpoolPayment(w, r, s.fuel.Release)
}

func (s *Server) handleCarpoolPayment(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	if s.fuel == nil {
		http.Error(w, "payments not configured", http.StatusNotImplemented)
		return
	}
	var req carpoolPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentIntentID == "" {
		http.Error(w, "payment_intent_id required", http.StatusBadRequest)
		return
	}
	if err := op(r.Context(), req.PaymentIntentID); err != nil {
		s.logger.Error("fuel share settlement failed", "payment_intent_id", req.PaymentIntentID, "error", err)
		http.Error(w, "payment settlement failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaceSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" || s.places == nil {
		writeJSON(w, []places.Place{})
		return
	}
	out, err := s.places.Search(r.Context(), q, 8)
	if err != nil {
		// Geocoder trouble degrades to an empty result, same as the rest of
		// the routing stack.
		s.logger.Warn("place search failed", "error", err)
		writeJSON(w, []places.Place{})
		return
	}
	writeJSON(w, out)
}

var upgrader = websocket.Upgrader{}

// wsFrame is the inbound message protocol of a subscriber connection.
type wsFrame struct {
	Type    string  `json:"type"` // location_update | set_active_group | set_active_chat | sos
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	GroupID string  `json:"group_id"`
	ChatID  string  `json:"chat_id"`
	Message string  `json:"message"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	groupID, memberID := vars["group_id"], vars["member_id"]
	name := r.URL.Query().Get("name")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	s.registry.Add(memberID, conn)
	s.registry.Join(groupID, memberID)
	s.channel.Join(groupID, models.Member{ID: memberID, GroupID: groupID, Name: name})

	go s.readLoop(conn, groupID, memberID)
}

// readLoop pumps inbound frames until the peer goes away. Disconnect is a
// lifecycle event: the member leaves the group state and everyone else's
// session is untouched.
func (s *Server) readLoop(conn *websocket.Conn, groupID, memberID string) {
	defer func() {
		s.registry.Remove(memberID)
		s.gate.Clear(memberID)
		s.channel.Leave(groupID, memberID)
	}()
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "location_update":
			if err := s.channel.ReportLocation(groupID, memberID, f.Lat, f.Lng); err != nil {
				// Only the offending client hears about its bad sample. The
				// reply goes through the session so it shares the write lock
				// with concurrent broadcasts; the conn allows one writer.
				_ = s.registry.Send(memberID, realtime.Envelope{Type: "error", Error: "invalid coordinate"})
			}
		case "set_active_group":
			s.gate.SetActiveGroup(memberID, f.GroupID)
		case "set_active_chat":
			s.gate.SetActiveDirectChat(memberID, f.ChatID)
		case "sos":
			s.channel.SOS(groupID, models.SOSAlert{
				GroupID:  groupID,
				MemberID: memberID,
				Loc:      models.Coordinate{Lat: f.Lat, Lng: f.Lng},
				Message:  f.Message,
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
