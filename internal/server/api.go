// Package server implements the order authority: the REST surface that
// accepts order mutations, the lifecycle arbiter, and the websocket hub
// that fans every accepted transition out to the affected rooms.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tableflow/internal/auth"
	"tableflow/internal/metrics"
	"tableflow/internal/models"
)

// API wires the REST routes, the order store, and the hub together.
type API struct {
	router   *gin.Engine
	store    *OrderStore
	hub      *Hub
	secret   string
	tokenTTL time.Duration
}

func NewAPI(store *OrderStore, hub *Hub, secret string, tokenTTL time.Duration) *API {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	a := &API{
		router:   gin.Default(),
		store:    store,
		hub:      hub,
		secret:   secret,
		tokenTTL: tokenTTL,
	}
	hub.orders = store
	a.setupRoutes()
	return a
}

// Router returns the gin engine, for the HTTP server and for tests.
func (a *API) Router() *gin.Engine {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	a.router.GET("/ws", a.hub.ServeWS(a.secret))

	// Thin session resolver: mints the credential tuple clients present.
	a.router.POST("/api/v1/sessions", a.CreateSession)

	v1 := a.router.Group("/api/v1")
	v1.Use(a.credentialMiddleware())
	{
		v1.POST("/orders", a.SubmitOrder)
		v1.GET("/orders", a.ListOrders)
		v1.GET("/orders/:id", a.GetOrder)
		v1.POST("/orders/:id/state", a.UpdateOrderState)
		v1.GET("/menu", a.GetMenu)
		v1.POST("/menu", a.CreateMenuItem)
	}
}

// credentialMiddleware re-validates the token carried on every call.
// 403 is reserved for the expired/invalid session condition so clients
// can distinguish it from any retryable failure.
func (a *API) credentialMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, err := auth.VerifyToken(a.secret, c.Query("token"))
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "session expired or invalid"})
			c.Abort()
			return
		}
		c.Set("credential", cred)
		c.Next()
	}
}

func credentialFrom(c *gin.Context) auth.Credential {
	return c.MustGet("credential").(auth.Credential)
}

type sessionRequest struct {
	RestaurantID uint   `json:"restaurant_id" binding:"required"`
	UserID       uint   `json:"user_id" binding:"required"`
	Role         string `json:"role" binding:"required"`
}

// CreateSession issues a signed session token for a role at a
// restaurant. Kept deliberately thin; a production deployment puts a
// real login in front of it.
func (a *API) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := auth.MintToken(a.secret, req.RestaurantID, req.UserID, role, a.tokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"restaurant_id": req.RestaurantID,
		"user_id":       req.UserID,
		"role":          role,
		"token":         token,
	})
}

// GetMenu returns the session restaurant's available catalog. Customers
// build carts from it; line and option prices on submitted orders are
// echoes of these entries.
func (a *API) GetMenu(c *gin.Context) {
	cred := credentialFrom(c)
	items, err := a.store.Menu(cred.RestaurantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

// CreateMenuItem adds a catalog entry. Staff only.
func (a *API) CreateMenuItem(c *gin.Context) {
	cred := credentialFrom(c)
	if cred.Role == models.RoleCustomer {
		c.JSON(http.StatusForbidden, gin.H{"error": "staff only"})
		return
	}
	var item models.MenuItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item.ID = 0
	item.RestaurantID = cred.RestaurantID
	item.Available = true
	if err := a.store.SaveMenuItem(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, item)
}

// SubmitOrder accepts a customer's draft. The authority assigns the id,
// advances the order to kitchen_queued on receipt, and announces it to
// the staff rooms and the order's own room.
func (a *API) SubmitOrder(c *gin.Context) {
	cred := credentialFrom(c)
	if cred.Role != models.RoleCustomer {
		c.JSON(http.StatusConflict, gin.H{"error": "only customers submit orders"})
		return
	}

	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order.ID = 0
	order.RestaurantID = cred.RestaurantID
	if err := order.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Submitted -> kitchen_queued happens on receipt; the draft state a
	// client may have sent is discarded either way.
	order.State = models.StateKitchenQueued

	if err := a.store.Create(&order); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.OrdersCreated.Inc()
	metrics.Transitions.WithLabelValues(string(order.State)).Inc()

	a.hub.Broadcast([]string{
		models.KitchenRoom(order.RestaurantID),
		models.CashierRoom(order.RestaurantID),
		models.OrderRoom(order.ID),
	}, models.EventNewOrder, models.NewOrderEvent{Order: order})

	c.JSON(http.StatusCreated, order)
}

// ListOrders returns the session restaurant's orders, optionally
// filtered by state. Displays use this to catch up after reconnecting.
func (a *API) ListOrders(c *gin.Context) {
	cred := credentialFrom(c)

	var state models.OrderState
	if raw := c.Query("state"); raw != "" {
		parsed, err := models.ParseOrderState(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		state = parsed
	}

	orders, err := a.store.List(cred.RestaurantID, state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, orders)
}

// GetOrder returns one order. Orders of other restaurants are invisible.
func (a *API) GetOrder(c *gin.Context) {
	cred := credentialFrom(c)
	order, ok := a.loadOrder(c)
	if !ok {
		return
	}
	if order.RestaurantID != cred.RestaurantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

type stateRequest struct {
	State string `json:"state" binding:"required"`
}

// UpdateOrderState is the kitchen/cashier action endpoint. The lifecycle
// table is enforced here, making the authority the single arbiter when
// two roles race: the first accepted transition moves the order, the
// loser gets a 409 and leaves its projection untouched.
func (a *API) UpdateOrderState(c *gin.Context) {
	cred := credentialFrom(c)
	order, ok := a.loadOrder(c)
	if !ok {
		return
	}
	if order.RestaurantID != cred.RestaurantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := models.ParseOrderState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !models.CanTransition(order.State, target) ||
		!models.RoleMayTransition(cred.Role, order.State, target) {
		metrics.RejectedTransitions.Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error": string(order.State) + " -> " + string(target) + " not allowed for " + string(cred.Role),
		})
		return
	}

	updated, err := a.store.SetState(order.ID, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.Transitions.WithLabelValues(string(target)).Inc()

	a.hub.Broadcast(
		models.FanoutRooms(updated.RestaurantID, updated.ID, target),
		models.EventOrderUpdated,
		models.OrderUpdatedEvent{
			OrderID:      updated.ID,
			RestaurantID: updated.RestaurantID,
			State:        target,
			UpdatedAt:    updated.UpdatedAt,
		})

	c.JSON(http.StatusOK, updated)
}

func (a *API) loadOrder(c *gin.Context) (*models.Order, bool) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return nil, false
	}
	order, err := a.store.Get(id)
	if err == ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return order, true
}

func parseID(s string) (uint, bool) {
	var id uint
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		id = id*10 + uint(r-'0')
	}
	return id, s != ""
}
