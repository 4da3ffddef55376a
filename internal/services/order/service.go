package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"restaurant-orders/internal/apperr"
	"restaurant-orders/internal/logger"
	"restaurant-orders/internal/models"
	"restaurant-orders/internal/pricing"
	"restaurant-orders/internal/store"
	"restaurant-orders/internal/tax"
	"restaurant-orders/internal/telemetry"
	"restaurant-orders/internal/waitlist"
)

const (
	maxNumberAttempts = 5
	publishTimeout    = 5 * time.Second
)

// EventPublisher announces order mutations to the notification subscriber.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.OrderEvent) error
}

// TaskQueue hands completion tasks to the fulfillment worker.
type TaskQueue interface {
	EnqueueCompletion(ctx context.Context, task models.CompletionTask) error
}

// Deps are the collaborators of the order service.
type Deps struct {
	Orders    store.Orders
	Catalog   store.Catalog
	Pricing   *pricing.Calculator
	Taxes     *tax.Resolver
	Waitlist  *waitlist.Estimator
	Events    EventPublisher
	Tasks     TaskQueue
	Telemetry *telemetry.Provider
	Logger    *logger.Logger

	// Optional overrides, mostly for tests.
	Now     func() time.Time
	Numbers func(time.Time) string
}

// Service owns the order write path and its read projections.
type Service struct {
	orders    store.Orders
	catalog   store.Catalog
	pricing   *pricing.Calculator
	taxes     *tax.Resolver
	waitlist  *waitlist.Estimator
	events    EventPublisher
	tasks     TaskQueue
	validator *Validator
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	logger    *logger.Logger
	now       func() time.Time
	numbers   func(time.Time) string

	wg sync.WaitGroup
}

func NewService(d Deps) *Service {
	tel := d.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	s := &Service{
		orders:    d.Orders,
		catalog:   d.Catalog,
		pricing:   d.Pricing,
		taxes:     d.Taxes,
		waitlist:  d.Waitlist,
		events:    d.Events,
		tasks:     d.Tasks,
		validator: NewValidator(),
		tracer:    tel.Tracer,
		metrics:   tel.Metrics,
		logger:    d.Logger,
		now:       d.Now,
		numbers:   d.Numbers,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.numbers == nil {
		s.numbers = NewOrderNumber
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	return s
}

// Wait blocks until every in-flight event publish has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Create prices, queues and stores a new pending order.
func (s *Service) Create(ctx context.Context, req *models.OrderRequest) (resp *models.OrderResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { endSpan(span, err) }()
	requestID := logger.RequestID(ctx)

	if err := s.validator.ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &models.Order{
		ID:          uuid.NewString(),
		OrderStatus: models.StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	restaurant, err := s.build(ctx, req, o)
	if err != nil {
		return nil, err
	}

	origin := req.ReOrder
	if origin != "" {
		if _, err := s.orders.Get(ctx, origin); err != nil {
			if apperr.IsNotFound(err) {
				return nil, apperr.NotFound("order.Create", "re-order origin "+origin+" not found")
			}
			return nil, err
		}
	}

	prepare := func(ctx context.Context, q store.OrderQueries) error {
		n, err := s.waitlist.Count(ctx, q, o.DeliveryTime, o.Table)
		if err != nil {
			return err
		}
		o.WaitingList = n

		if origin != "" {
			prior, err := q.CountReorders(ctx, origin)
			if err != nil {
				return fmt.Errorf("count re-orders: %w", err)
			}
			o.ReOrder = &models.ReOrder{OrderID: origin, Count: prior + 1}
		}
		return nil
	}

	for attempt := 1; ; attempt++ {
		o.Number = s.numbers(now)
		err = s.orders.Insert(ctx, o, prepare)
		if !errors.Is(err, store.ErrDuplicateNumber) {
			break
		}
		s.logger.Warn("order_number_collision", "Order number already taken, retrying", requestID, map[string]interface{}{
			"order_number": o.Number,
			"attempt":      attempt,
		})
		if attempt == maxNumberAttempts {
			return nil, apperr.Conflict("order.Create", "could not allocate a unique order number")
		}
	}
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("order_type", string(o.OrderType)),
	))
	span.SetAttributes(attribute.String("order.number", o.Number), attribute.String("order.id", o.ID))
	s.logger.Info("order_created", "Order created", requestID, map[string]interface{}{
		"order_id":      o.ID,
		"order_number":  o.Number,
		"restaurant_id": o.Restaurant,
		"total":         o.Price.Total.String(),
		"waiting_list":  o.WaitingList,
	})

	if ev, err := models.NewOrderEvent(models.EventOrderCreated, o, restaurant.OwnerID, o.Actor()); err == nil {
		s.publishAsync(requestID, ev)
	}

	return &models.OrderResponse{
		Status:            "success",
		Message:           "Order placed successfully",
		Order:             o,
		EstimatedWaitTime: s.waitlist.EstimatedWait(o.WaitingList),
	}, nil
}

// Update re-prices and re-classifies an order. expectedVersion, when set,
// must match the stored version.
func (s *Service) Update(ctx context.Context, id string, req *models.OrderRequest, expectedVersion *int) (resp *models.OrderResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Update", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()
	requestID := logger.RequestID(ctx)

	if err := s.validator.ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(existing, expectedVersion, req.Version); err != nil {
		return nil, err
	}
	if existing.OrderStatus.Terminal() {
		return nil, apperr.Conflict("order.Update", fmt.Sprintf("order is %s and can no longer change", existing.OrderStatus))
	}
	if req.Restaurant != existing.Restaurant {
		return nil, apperr.Validation("order.Update", "restaurant cannot change",
			apperr.FieldError{Field: "restaurant", Message: "must match the original order"})
	}

	updated := existing.Clone()
	if _, err := s.build(ctx, req, updated); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, updated, existing.Version); err != nil {
		return nil, err
	}

	s.logger.Info("order_updated", "Order updated", requestID, map[string]interface{}{
		"order_id": updated.ID,
		"version":  updated.Version,
		"total":    updated.Price.Total.String(),
	})
	if ev, err := models.NewOrderEvent(models.EventOrderUpdated, updated, "", updated.Actor()); err == nil {
		s.publishAsync(requestID, ev)
	}

	return &models.OrderResponse{
		Status:            "success",
		Message:           "Order updated successfully",
		Order:             updated,
		EstimatedWaitTime: s.waitlist.EstimatedWait(updated.WaitingList),
	}, nil
}

// UpdateStatus drives the state machine. Reaching completed writes a
// completion task to the outbox in the same transaction and then enqueues
// it; an enqueue failure is left to the relay and never fails the call.
func (s *Service) UpdateStatus(ctx context.Context, id string, to models.OrderStatus, req *models.StatusUpdateRequest, expectedVersion *int) (o *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(to)),
	))
	defer func() { endSpan(span, err) }()
	requestID := logger.RequestID(ctx)

	if req == nil {
		req = &models.StatusUpdateRequest{}
	}
	if err := s.validator.ValidateStatusUpdate(req); err != nil {
		return nil, err
	}
	if !to.Valid() {
		return nil, apperr.Validation("order.UpdateStatus", fmt.Sprintf("unknown status %q", to),
			apperr.FieldError{Field: "status", Message: "must be one of: pending accepted preparing completed cancelled"})
	}

	o, change, err := s.orders.UpdateStatus(ctx, id, func(cur *models.Order) (models.StatusChange, error) {
		if err := checkVersion(cur, expectedVersion, req.Version); err != nil {
			return models.StatusChange{}, err
		}
		return Transition(cur, to, req.ChangedBy, req.Notes, s.now())
	})
	if err != nil {
		return nil, err
	}

	if !change.Changed {
		s.logger.Debug("status_unchanged", "Order already in requested status", requestID, map[string]interface{}{
			"order_id": id,
			"status":   string(to),
		})
		return o, nil
	}

	s.metrics.StatusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(change.From)),
		attribute.String("to", string(change.To)),
	))
	s.logger.Info("status_changed", fmt.Sprintf("Order moved from %s to %s", change.From, change.To), requestID, map[string]interface{}{
		"order_id":     o.ID,
		"order_number": o.Number,
		"changed_by":   change.ChangedBy,
	})

	if change.EnqueueCompletion && s.tasks != nil {
		task := models.CompletionTask{
			OrderID:      o.ID,
			OrderNumber:  o.Number,
			RestaurantID: o.Restaurant,
			EnqueuedAt:   s.now().UTC(),
		}
		if err := s.tasks.EnqueueCompletion(ctx, task); err != nil {
			s.logger.Error("completion_enqueue_failed", "Completion task left for the outbox relay", requestID, err, map[string]interface{}{
				"order_id": o.ID,
			})
		}
	}

	if ev, err := models.NewStatusEvent(o, change); err == nil {
		s.publishAsync(requestID, ev)
	}
	return o, nil
}

// Delete removes an order and announces the removal.
func (s *Service) Delete(ctx context.Context, id string) (deletedID string, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	o, err := s.orders.Delete(ctx, id)
	if err != nil {
		return "", err
	}
	s.logger.Info("order_deleted", "Order deleted", logger.RequestID(ctx), map[string]interface{}{
		"order_id":     o.ID,
		"order_number": o.Number,
	})
	s.publishAsync(logger.RequestID(ctx), models.NewDeletedEvent(o))
	return o.ID, nil
}

// AcceptGuest acknowledges a guest's participation. Guests are on the order
// from the start, so nothing changes.
func (s *Service) AcceptGuest(ctx context.Context, id, userID string) (*models.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.HasGuest(userID) {
		return nil, apperr.NotFound("order.AcceptGuest", "user "+userID+" is not a guest of this order")
	}
	s.logger.Debug("guest_accepted", "Guest accepted order", logger.RequestID(ctx), map[string]interface{}{
		"order_id": id,
		"user_id":  userID,
	})
	return o, nil
}

// DeclineGuest removes a guest and their allocations, then re-prices.
func (s *Service) DeclineGuest(ctx context.Context, id, userID string) (o *models.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.DeclineGuest", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	existing, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.HasGuest(userID) {
		return nil, apperr.NotFound("order.DeclineGuest", "user "+userID+" is not a guest of this order")
	}
	if userID == existing.Customer {
		return nil, apperr.Validation("order.DeclineGuest", "the customer who placed the order cannot decline it")
	}
	if existing.OrderStatus.Terminal() {
		return nil, apperr.Conflict("order.DeclineGuest", fmt.Sprintf("order is %s and can no longer change", existing.OrderStatus))
	}

	updated := existing.Clone()
	updated.Guests = removeString(updated.Guests, userID)
	for i := range updated.Items {
		kept := updated.Items[i].Customers[:0]
		for _, g := range updated.Items[i].Customers {
			if g.CustomerID != userID {
				kept = append(kept, g)
			}
		}
		updated.Items[i].Customers = kept
	}

	rate, err := s.taxes.Rate(ctx, updated.Restaurant)
	if err != nil {
		return nil, err
	}
	s.pricing.Apply(updated, rate, existing.Price.Tip)
	if err := s.verify(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.orders.Update(ctx, updated, existing.Version); err != nil {
		return nil, err
	}

	if ev, err := models.NewOrderEvent(models.EventOrderUpdated, updated, "", userID); err == nil {
		s.publishAsync(logger.RequestID(ctx), ev)
	}
	return updated, nil
}

// Read projections

func (s *Service) Get(ctx context.Context, id string) (*models.Order, error) {
	return s.orders.Get(ctx, id)
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

func (s *Service) ListByRestaurant(ctx context.Context, restaurantID string, statuses []models.OrderStatus) ([]*models.Order, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, apperr.Validation("order.ListByRestaurant", fmt.Sprintf("unknown status %q", st))
		}
	}
	return s.orders.ListByRestaurant(ctx, restaurantID, statuses)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.orders.ListByUser(ctx, userID)
}

func (s *Service) History(ctx context.Context, id string) ([]models.StatusHistory, error) {
	return s.orders.History(ctx, id)
}

// KitchenFeed lists the orders a kitchen is working on, soonest first.
func (s *Service) KitchenFeed(ctx context.Context, restaurantID string) ([]*models.Order, error) {
	orders, err := s.orders.ListByRestaurant(ctx, restaurantID, []models.OrderStatus{models.StatusAccepted, models.StatusPreparing})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].DeliveryTime.Before(orders[j].DeliveryTime)
	})
	return orders, nil
}

// WaitingListInfo is the current queue for a table slot.
type WaitingListInfo struct {
	DeliveryTime      time.Time `json:"deliveryTime"`
	Tables            []string  `json:"table"`
	WaitingList       int       `json:"waitingList"`
	EstimatedWaitTime int       `json:"estimatedWaitTime"`
}

func (s *Service) WaitingList(ctx context.Context, deliveryTime time.Time, tables []string) (*WaitingListInfo, error) {
	n, err := s.waitlist.Count(ctx, s.orders, deliveryTime, tables)
	if err != nil {
		return nil, err
	}
	return &WaitingListInfo{
		DeliveryTime:      waitlist.Slot(deliveryTime),
		Tables:            waitlist.Normalize(tables),
		WaitingList:       n,
		EstimatedWaitTime: s.waitlist.EstimatedWait(n),
	}, nil
}

// build fills o from the request: parties, classification, items and price.
func (s *Service) build(ctx context.Context, req *models.OrderRequest, o *models.Order) (models.Restaurant, error) {
	restaurant, err := s.catalog.Restaurant(ctx, req.Restaurant)
	if err != nil {
		if apperr.IsNotFound(err) {
			return models.Restaurant{}, apperr.WithOp("order.build", apperr.ErrRestaurantNotFound)
		}
		return models.Restaurant{}, apperr.Dependency("order.build", err)
	}

	category, err := s.classify(ctx, req.Items)
	if err != nil {
		return models.Restaurant{}, err
	}

	guests := guestSet(req.Customer, req.Guests)
	if err := checkAllocations(req.Items, guests); err != nil {
		return models.Restaurant{}, err
	}

	o.Customer = req.Customer
	o.Staff = req.Staff
	o.Guests = guests
	o.Restaurant = restaurant.ID
	o.Category = category
	o.OrderType = req.OrderType
	o.OrderFrom = models.FromCustomer
	if req.Staff != "" {
		o.OrderFrom = models.FromRestaurant
	}
	o.PaymentType = req.PaymentType
	o.PaymentMethod = req.PaymentMethod
	o.DeliveryTime = waitlist.Slot(req.DeliveryTime)
	o.Table = nil
	if req.OrderType == models.DineIn {
		o.Table = waitlist.Normalize(req.Table)
	}
	o.Visitors = req.Visitors
	o.Instructions = req.Instructions
	o.Coupon = req.Coupon
	o.Items = req.Items

	rate, err := s.taxes.Rate(ctx, restaurant.ID)
	if err != nil {
		return models.Restaurant{}, err
	}
	s.pricing.Apply(o, rate, req.Tip)
	if err := s.verify(ctx, o); err != nil {
		return models.Restaurant{}, err
	}
	return restaurant, nil
}

// classify resolves every referenced menu item and combo and derives the
// order category.
func (s *Service) classify(ctx context.Context, items []models.LineItem) (models.Category, error) {
	var menuIDs, comboIDs []string
	for _, item := range items {
		if item.Combo != "" {
			comboIDs = append(comboIDs, item.Combo)
		} else {
			menuIDs = append(menuIDs, item.Item)
		}
	}

	if len(comboIDs) > 0 {
		combos, err := s.catalog.Combos(ctx, comboIDs)
		if err != nil {
			return "", apperr.Dependency("order.classify", err)
		}
		for _, id := range comboIDs {
			combo, ok := combos[id]
			if !ok {
				return "", apperr.NotFound("order.classify", "combo "+id+" not found")
			}
			for _, entry := range combo.Items {
				menuIDs = append(menuIDs, entry.MenuItem)
			}
		}
	}

	menu, err := s.catalog.MenuItems(ctx, menuIDs)
	if err != nil {
		return "", apperr.Dependency("order.classify", err)
	}
	category := models.Vegetarian
	for _, id := range menuIDs {
		mi, ok := menu[id]
		if !ok {
			return "", apperr.NotFound("order.classify", "menu item "+id+" not found")
		}
		if mi.NonVeg {
			category = models.NonVegetarian
		}
	}
	return category, nil
}

// verify logs and returns pricing invariant violations with the full order.
func (s *Service) verify(ctx context.Context, o *models.Order) error {
	err := pricing.Verify(o)
	if err != nil {
		s.logger.Error("pricing_invariant_violated", "Order totals do not reconcile", logger.RequestID(ctx), err, map[string]interface{}{
			"order": o,
		})
	}
	return err
}

func (s *Service) publishAsync(requestID string, ev *models.OrderEvent) {
	if s.events == nil || ev == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		ctx = logger.WithRequestID(ctx, requestID)

		if err := s.events.PublishEvent(ctx, ev); err != nil {
			s.logger.Error("event_publish_failed", "Failed to publish order event", requestID, err, map[string]interface{}{
				"event_type": string(ev.Type),
				"order_id":   ev.OrderID,
			})
		}
	}()
}

func checkVersion(o *models.Order, versions ...*int) error {
	for _, v := range versions {
		if v != nil && *v != o.Version {
			return apperr.ErrStaleVersion
		}
	}
	return nil
}

// guestSet returns the customer followed by the other guests, deduplicated.
func guestSet(customer string, guests []string) []string {
	out := make([]string, 0, len(guests)+1)
	seen := make(map[string]bool, len(guests)+1)
	for _, g := range append([]string{customer}, guests...) {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

func checkAllocations(items []models.LineItem, guests []string) error {
	allowed := make(map[string]bool, len(guests))
	for _, g := range guests {
		allowed[g] = true
	}
	var fields []apperr.FieldError
	for i, item := range items {
		for j, g := range item.Customers {
			if !allowed[g.CustomerID] {
				fields = append(fields, apperr.FieldError{
					Field:   fmt.Sprintf("items[%d].customer[%d].customerId", i, j),
					Message: "is not a guest of this order",
				})
			}
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("order.build", "invalid guest allocation", fields...)
	}
	return nil
}

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
