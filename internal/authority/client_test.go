package authority

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableflow/internal/auth"
	"tableflow/internal/models"
)

var testCred = auth.Credential{
	RestaurantID: 7,
	UserID:       12,
	Role:         models.RoleKitchen,
	Token:        "tok-123",
}

func TestSubmitOrder_CarriesCredentialAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/orders", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("restaurant_id"))
		assert.Equal(t, "12", r.URL.Query().Get("user_id"))
		assert.Equal(t, "tok-123", r.URL.Query().Get("token"))

		var order models.Order
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))
		order.ID = 42
		order.State = models.StateKitchenQueued
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(order)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	created, err := client.SubmitOrder(context.Background(), testCred, models.Order{
		RestaurantID: 7,
		Lines:        []models.OrderLine{{ItemID: 1, Name: "Burger", BasePrice: 850, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(42), created.ID)
	assert.Equal(t, models.StateKitchenQueued, created.State)
}

func TestUpdateState_ForbiddenIsSubscriptionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "session expired"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.UpdateState(context.Background(), testCred, 42, models.StatePreparing)
	assert.ErrorIs(t, err, ErrSubscriptionExpired)
}

func TestUpdateState_ConflictIsInvalidTransition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders/42/state", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "ready -> preparing not allowed"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.UpdateState(context.Background(), testCred, 42, models.StatePreparing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "ready -> preparing")
}

func TestGetOrder_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.GetOrder(context.Background(), testCred, 99)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListOrders_FiltersByState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kitchen_queued", r.URL.Query().Get("state"))
		json.NewEncoder(w).Encode([]models.Order{{ID: 1, State: models.StateKitchenQueued}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	orders, err := client.ListOrders(context.Background(), testCred, models.StateKitchenQueued)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, uint(1), orders[0].ID)
}
