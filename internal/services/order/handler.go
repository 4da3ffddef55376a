package order

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
)

// Converter rewrites monetary fields of a response into another currency.
type Converter interface {
	Convert(payload interface{}, currency string) (interface{}, error)
}

// LiveFeed streams a restaurant's realtime channel to a websocket client.
type LiveFeed interface {
	ServeRestaurant(w http.ResponseWriter, r *http.Request, restaurantID string)
}

// HandlerOptions configures the HTTP surface.
type HandlerOptions struct {
	RequestTimeout time.Duration
	Converter      Converter
	Live           LiveFeed
	// HealthChecks are run by GET /health, keyed by dependency name.
	HealthChecks map[string]func(ctx context.Context) error
}

// Handler handles HTTP requests for the order service
type Handler struct {
	service *Service
	logger  *logger.Logger
	opts    HandlerOptions
}

// NewHandler creates a new order handler
func NewHandler(service *Service, log *logger.Logger, opts HandlerOptions) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Handler{
		service: service,
		logger:  log,
		opts:    opts,
	}
}

// Routes sets up the HTTP routes
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.withLogging)

	r.Get("/health", h.HealthCheck)
	r.Get("/restaurants/{id}/live", h.Live)

	r.Group(func(r chi.Router) {
		r.Use(h.withTimeout)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/number/{number}", h.GetOrderByNumber)
		r.Route("/orders/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Put("/", h.UpdateOrder)
			r.Delete("/", h.DeleteOrder)
			r.Patch("/status/{status}", h.UpdateOrderStatus)
			r.Get("/history", h.GetOrderHistory)
			r.Post("/guests/{userId}/accept", h.AcceptGuest)
			r.Post("/guests/{userId}/decline", h.DeclineGuest)
		})
		r.Get("/restaurants/{id}/orders", h.ListRestaurantOrders)
		r.Get("/restaurants/{id}/kitchen", h.KitchenFeed)
		r.Get("/restaurants/{id}/waiting-list", h.WaitingList)
		r.Get("/users/{id}/orders", h.ListUserOrders)
	})

	return r
}

// CreateOrder handles POST /orders requests
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := logger.RequestID(r.Context())

	var req models.OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "order_creation_failed", err, map[string]interface{}{
			"restaurant_id": req.Restaurant,
			"order_type":    req.OrderType,
		})
		return
	}

	h.logger.Debug("order_created", "Order created successfully", requestID, map[string]interface{}{
		"order_number": resp.Order.Number,
		"total_amount": resp.Order.Price.Total.String(),
	})
	setETag(w, resp.Order)
	h.writeJSON(w, r, http.StatusCreated, resp)
}

// UpdateOrder handles PUT /orders/{id}
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, "update_failed", err, nil)
		return
	}

	var req models.OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Update(r.Context(), id, &req, version)
	if err != nil {
		h.fail(w, r, "update_failed", err, map[string]interface{}{"order_id": id})
		return
	}
	setETag(w, resp.Order)
	h.writeJSON(w, r, http.StatusOK, resp)
}

// UpdateOrderStatus handles PATCH /orders/{id}/status/{status}
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := models.OrderStatus(chi.URLParam(r, "status"))
	version, err := ifMatch(r)
	if err != nil {
		h.fail(w, r, "status_update_failed", err, nil)
		return
	}

	var req models.StatusUpdateRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), id, status, &req, version)
	if err != nil {
		h.fail(w, r, "status_update_failed", err, map[string]interface{}{
			"order_id": id,
			"status":   string(status),
		})
		return
	}
	setETag(w, o)
	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Order status is %s", o.OrderStatus),
		"order":   o,
	})
}

// DeleteOrder handles DELETE /orders/{id}
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "delete_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"_id": id})
}

// GetOrder handles GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	setETag(w, o)
	h.writeJSON(w, r, http.StatusOK, o)
}

// GetOrderByNumber handles GET /orders/number/{number}
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if !strings.HasPrefix(number, "ORD_") {
		h.fail(w, r, "db_query_failed", apperr.Validation("order.GetByNumber", "invalid order number"), nil)
		return
	}
	o, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		h.fail(w, r, "db_query_failed", err, map[string]interface{}{"order_number": number})
		return
	}
	setETag(w, o)
	h.writeJSON(w, r, http.StatusOK, o)
}

// GetOrderHistory handles GET /orders/{id}/history
func (h *Handler) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, history)
}

// ListRestaurantOrders handles GET /restaurants/{id}/orders?status=a,b
func (h *Handler) ListRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []models.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, models.OrderStatus(strings.TrimSpace(s)))
		}
	}
	orders, err := h.service.ListByRestaurant(r.Context(), chi.URLParam(r, "id"), statuses)
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

// KitchenFeed handles GET /restaurants/{id}/kitchen
func (h *Handler) KitchenFeed(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.KitchenFeed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

// ListUserOrders handles GET /users/{id}/orders
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListByUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, nonNil(orders))
}

// WaitingList handles GET /restaurants/{id}/waiting-list?deliveryTime=&table=
func (h *Handler) WaitingList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := time.Parse(time.RFC3339, q.Get("deliveryTime"))
	if err != nil {
		h.fail(w, r, "validation_failed", apperr.Validation("order.WaitingList", "invalid deliveryTime",
			apperr.FieldError{Field: "deliveryTime", Message: "must be an RFC 3339 timestamp"}), nil)
		return
	}
	var tables []string
	for _, t := range q["table"] {
		tables = append(tables, strings.Split(t, ",")...)
	}

	info, err := h.service.WaitingList(r.Context(), at, tables)
	if err != nil {
		h.fail(w, r, "db_query_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}

// AcceptGuest handles POST /orders/{id}/guests/{userId}/accept
func (h *Handler) AcceptGuest(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.AcceptGuest(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, "guest_accept_failed", err, nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{"status": "success", "message": "Order accepted", "order": o})
}

// DeclineGuest handles POST /orders/{id}/guests/{userId}/decline
func (h *Handler) DeclineGuest(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.DeclineGuest(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, "guest_decline_failed", err, nil)
		return
	}
	setETag(w, o)
	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{"status": "success", "message": "Order declined", "order": o})
}

// Live handles GET /restaurants/{id}/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if h.opts.Live == nil {
		h.writeErrorResponse(w, http.StatusNotImplemented, "Live feed not configured", logger.RequestID(r.Context()), nil)
		return
	}
	h.opts.Live.ServeRestaurant(w, r, chi.URLParam(r, "id"))
}

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.opts.HealthChecks))
	healthy := true
	for name, check := range h.opts.HealthChecks {
		if err := check(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-service",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		response["status"] = "unhealthy"
	}
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	requestID := logger.RequestID(r.Context())
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		h.writeErrorResponse(w, http.StatusBadRequest, "Content-Type must be application/json", requestID, nil)
		return false
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.logger.Error("validation_failed", "Failed to parse request body", requestID, err, nil)
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON format", requestID, nil)
		return false
	}
	return true
}

// decodeOptional is decode for a body the client may leave out. Chunked
// requests report ContentLength -1 even when empty, so the body is peeked.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	body := bufio.NewReader(r.Body)
	if _, err := body.Peek(1); errors.Is(err, io.EOF) {
		return true
	}
	r.Body = io.NopCloser(body)
	return h.decode(w, r, dst)
}

// fail logs err and writes the matching error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error, fields map[string]interface{}) {
	requestID := logger.RequestID(r.Context())
	status := apperr.HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(action, "Request failed", requestID, err, fields)
	} else {
		if fields == nil {
			fields = map[string]interface{}{}
		}
		fields["error"] = err.Error()
		h.logger.Debug(action, "Request rejected", requestID, fields)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeErrorResponse(w, status, errorMessage(err, status), requestID, apperr.FieldsOf(err))
}

func errorMessage(err error, status int) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out, retry later"
	}
	if status >= http.StatusInternalServerError {
		return "Internal server error"
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return http.StatusText(status)
}

// writeErrorResponse writes an error response in JSON format
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message, requestID string, fields []apperr.FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]interface{}{
		"error":      message,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"request_id": requestID,
	}
	if len(fields) > 0 {
		errorResponse["fields"] = fields
	}

	json.NewEncoder(w).Encode(errorResponse)
}

// writeJSON encodes v, converted to ?currency= when requested.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	requestID := logger.RequestID(r.Context())

	if currency := r.URL.Query().Get("currency"); currency != "" && h.opts.Converter != nil {
		converted, err := h.opts.Converter.Convert(v, currency)
		if err != nil {
			h.fail(w, r, "currency_conversion_failed", err, map[string]interface{}{"currency": currency})
			return
		}
		v = converted
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response_encoding_failed", "Failed to encode response", requestID, err, nil)
	}
}

// ifMatch reads the expected order version from If-Match.
func ifMatch(r *http.Request) (*int, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation("order.ifMatch", "invalid If-Match header",
			apperr.FieldError{Field: "If-Match", Message: "must be an order version"})
	}
	return &v, nil
}

func setETag(w http.ResponseWriter, o *models.Order) {
	if o != nil {
		w.Header().Set("ETag", strconv.Quote(strconv.Itoa(o.Version)))
	}
}

func nonNil(orders []*models.Order) []*models.Order {
	if orders == nil {
		return []*models.Order{}
	}
	return orders
}

// withTimeout bounds every request by the configured budget.
func (h *Handler) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withLogging adds request logging middleware
func (h *Handler) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))
		w.Header().Set("X-Request-ID", requestID)

		h.logger.Debug("request_started",
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.Header.Get("User-Agent"),
			})

		// Create a response writer that captures status code
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		h.logger.Debug("request_completed",
			fmt.Sprintf("%s %s - %d", r.Method, r.URL.Path, rw.statusCode),
			requestID,
			map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": rw.statusCode,
				"duration_ms": duration.Milliseconds(),
			})
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack passes the connection through for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
