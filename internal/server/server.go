package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fulfillment-service/internal/allocator"
	"fulfillment-service/internal/cache"
	"fulfillment-service/internal/config"
	"fulfillment-service/internal/engine"
	"fulfillment-service/internal/ledger"
	"fulfillment-service/internal/metrics"
	"fulfillment-service/internal/middleware"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

// Engine is the lifecycle facade as the HTTP layer sees it.
type Engine interface {
	Submit(req engine.SubmitRequest) (*models.Order, error)
	Advance(orderID string, target models.OrderStatus, actor string) (*models.Order, error)
	Cancel(orderID, actor string) (*models.Order, error)
	AddNote(orderID, actor, note string) (models.AuditEvent, error)
	Get(orderID string) (*models.Order, error)
	ClassifySLA(orderID string) (models.SlaInfo, error)
	History(orderID string, ord ledger.Ordering) ([]models.AuditEvent, error)
	Timeline(orderID string, method models.DeliveryMethodType) ([]models.TimelineEvent, error)
	TrackingShipments(orderID string) ([]models.TrackingShipment, error)
	ListOrders(f store.ListFilter) ([]*models.Order, error)
}

type Server struct {
	eng       Engine
	watchlist *cache.Watchlist
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	user      string
	password  string
	addr      string
}

func NewServer(eng Engine, watchlist *cache.Watchlist, m *metrics.Metrics, reg *prometheus.Registry, cfg *config.Config) *Server {
	return &Server{
		eng:       eng,
		watchlist: watchlist,
		metrics:   m,
		registry:  reg,
		user:      cfg.Username,
		password:  cfg.Password,
		addr:      cfg.Addr(),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.handleWith(mux, "/orders", s.handleOrders,
		[]string{"POST"}, []string{"POST"},
	)

	s.handleWith(mux, "/orders/", s.handleOrderOne,
		[]string{"POST"}, []string{"POST"},
	)

	mux.Handle("/sla/watchlist", middleware.MetricsMiddleware(s.metrics, "/sla/watchlist")(
		http.HandlerFunc(s.handleWatchlist),
	))

	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) Run() error {
	mux := http.NewServeMux()

	s.RegisterRoutes(mux)

	log.Printf("Server listen on %s...", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleWith(mux *http.ServeMux, path string,
	handlerFunc http.HandlerFunc,
	logMethods []string, authMethods []string,
) {
	finalHandler := middleware.MetricsMiddleware(s.metrics, path)(
		middleware.LogMiddleware(logMethods...)(
			middleware.BasicAuthMiddleware(s.user, s.password, authMethods...)(
				handlerFunc,
			),
		),
	)
	mux.Handle(path, finalHandler)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitOrder(w, r)
	case http.MethodGet:
		s.handleListOrders(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOrderOne routes /orders/{id} and its sub-resources: advance, cancel,
// notes, history, sla, timeline, tracking.
func (s *Server) handleOrderOne(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	if rest == "" {
		http.Error(w, "missing ID", http.StatusBadRequest)
		return
	}
	id, sub, _ := strings.Cut(rest, "/")

	switch {
	case sub == "" && r.Method == http.MethodGet:
		s.handleGetOrder(w, r, id)
	case sub == "advance" && r.Method == http.MethodPost:
		s.handleAdvance(w, r, id)
	case sub == "cancel" && r.Method == http.MethodPost:
		s.handleCancel(w, r, id)
	case sub == "notes" && r.Method == http.MethodPost:
		s.handleAddNote(w, r, id)
	case sub == "history" && r.Method == http.MethodGet:
		s.handleHistory(w, r, id)
	case sub == "sla" && r.Method == http.MethodGet:
		s.handleSLA(w, r, id)
	case sub == "timeline" && r.Method == http.MethodGet:
		s.handleTimeline(w, r, id)
	case sub == "tracking" && r.Method == http.MethodGet:
		s.handleTracking(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type submitPayload struct {
	OrderID      string                     `json:"order_id"`
	CustomerID   string                     `json:"customer_id"`
	BusinessUnit string                     `json:"business_unit"`
	Channel      string                     `json:"channel"`
	Lines        []allocator.RawLine        `json:"lines"`
	Recipient    models.HomeDeliveryDetails `json:"recipient"`
	Store        models.ClickCollectDetails `json:"store"`
	OriginStore  string                     `json:"origin_store"`
	SlaMinutes   int                        `json:"sla_minutes"`
	Actor        string                     `json:"actor"`
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var p submitPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}

	o, err := s.eng.Submit(engine.SubmitRequest{
		OrderID:      p.OrderID,
		CustomerID:   p.CustomerID,
		BusinessUnit: p.BusinessUnit,
		Channel:      p.Channel,
		Lines:        p.Lines,
		Recipient:    p.Recipient,
		Store:        p.Store,
		OriginStore:  p.OriginStore,
		SlaTarget:    time.Duration(p.SlaMinutes) * time.Minute,
		Actor:        p.Actor,
	})
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{CustomerID: q.Get("customer_id")}
	if name := q.Get("status"); name != "" {
		st, err := models.ParseStatus(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Status = &st
	}
	f.PageIndex, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	orders, err := s.eng.ListOrders(f)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// orderView is an order with its derived SLA standing attached.
type orderView struct {
	*models.Order
	Sla models.SlaInfo `json:"sla"`
}

func (s *Server) handleGetOrder(w http.ResponseWriter, _ *http.Request, id string) {
	o, err := s.eng.Get(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	info, err := s.eng.ClassifySLA(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, orderView{Order: o, Sla: info})
}

type transitionPayload struct {
	Target string `json:"target"`
	Actor  string `json:"actor"`
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request, id string) {
	var p transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}
	target, err := models.ParseStatus(p.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := s.eng.Advance(id, target, p.Actor)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	var p transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}

	o, err := s.eng.Cancel(id, p.Actor)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type notePayload struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request, id string) {
	var p notePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad JSON", http.StatusBadRequest)
		return
	}

	event, err := s.eng.AddNote(id, p.Actor, p.Note)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	ord := ledger.Ascending
	if r.URL.Query().Get("order") == "desc" {
		ord = ledger.Descending
	}
	events, err := s.eng.History(id, ord)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSLA(w http.ResponseWriter, _ *http.Request, id string) {
	info, err := s.eng.ClassifySLA(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, id string) {
	method := models.DeliveryMethodType(r.URL.Query().Get("method"))
	if method == "" {
		method = models.HomeDelivery
	}
	events, err := s.eng.Timeline(id, method)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTracking(w http.ResponseWriter, _ *http.Request, id string) {
	shipments, err := s.eng.TrackingShipments(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, shipments)
}

type watchlistView struct {
	Breached    []*models.Order `json:"breached"`
	Approaching []*models.Order `json:"approaching"`
	RefreshedAt time.Time       `json:"refreshed_at"`
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, watchlistView{
		Breached:    s.watchlist.Breached(),
		Approaching: s.watchlist.Approaching(),
		RefreshedAt: s.watchlist.RefreshedAt(),
	})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrOrderExists):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrAlreadyTerminal),
		errors.Is(err, models.ErrInsufficientUnits):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
