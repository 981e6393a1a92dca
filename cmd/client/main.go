package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tableflow/internal/auth"
	"tableflow/internal/authority"
	"tableflow/internal/cart"
	"tableflow/internal/channel"
	"tableflow/internal/config"
	"tableflow/internal/models"
	"tableflow/internal/projection"
	"tableflow/internal/session"
)

var (
	serverURL    = flag.String("server", "http://localhost:8080", "Order authority base URL")
	configFile   = flag.String("config", "", "Path to configuration file")
	role         = flag.String("role", "", "Role to mint a session for (with -mint)")
	restaurantID = flag.Uint("restaurant", 0, "Restaurant id (inline credential)")
	userID       = flag.Uint("user", 0, "User id (inline credential)")
	tokenFlag    = flag.String("token", "", "Session token (inline credential)")
	mint         = flag.Bool("mint", false, "Request a fresh session token from the server")
	sessionName  = flag.String("session", "default", "Persisted session namespace")
	demo         = flag.Bool("demo", false, "Customer only: submit a demo order and watch it")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store := openStore(cfg)
	proj := projection.New()

	transport := channel.NewWebsocketTransport("")
	ch := channel.New(transport, channel.Config{
		InitialBackoff: cfg.Channel.InitialBackoff,
		MaxBackoff:     cfg.Channel.MaxBackoff,
		BackoffFactor:  cfg.Channel.BackoffFactor,
		JoinTimeout:    cfg.Channel.JoinTimeout,
	})
	co := session.New(store, ch, proj)
	co.OnChange = func(orderID uint, state models.OrderState) {
		log.Printf("order %d -> %s", orderID, state)
	}
	co.OnJoinError = func(room string, err error) {
		log.Printf("join %s failed: %v", room, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inline := resolveInline(ctx)
	if err := co.Resolve(ctx, inline); err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			log.Fatal("Not authenticated: supply -restaurant/-user/-token, or -mint with -role")
		}
		log.Fatalf("Failed to resolve session: %v", err)
	}
	cred, _ := co.Credential()
	transport.URL = wsURL(*serverURL, cred.Token)

	ch.OnDisconnected(func() { log.Println("reconnecting...") })
	if err := co.Start(); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	defer co.Stop()
	log.Printf("Session open: restaurant %d, role %s", cred.RestaurantID, cred.Role)

	client := authority.NewClient(*serverURL)
	if err := catchUp(ctx, client, cred, co); err != nil {
		log.Printf("Catch-up failed: %v", err)
	}

	if *demo && cred.Role == models.RoleCustomer {
		if err := submitDemoOrder(ctx, client, cred, co); err != nil {
			log.Printf("Demo order failed: %v", err)
		}
	}

	<-ctx.Done()
}

// resolveInline builds the inline credential from flags, minting a fresh
// token from the server's session resolver when asked to.
func resolveInline(ctx context.Context) *session.Inline {
	if *mint {
		token, err := mintSession(ctx, *serverURL, *restaurantID, *userID, *role)
		if err != nil {
			log.Fatalf("Failed to mint session: %v", err)
		}
		return &session.Inline{RestaurantID: *restaurantID, UserID: *userID, Token: token}
	}
	if *tokenFlag != "" {
		return &session.Inline{RestaurantID: *restaurantID, UserID: *userID, Token: *tokenFlag}
	}
	return nil
}

func openStore(cfg *config.Config) auth.SessionStore {
	if cfg.Redis.Addr == "" {
		return auth.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return auth.NewRedisStore(client, *sessionName, 30*24*time.Hour)
}

// catchUp seeds the projection with the authority's current open orders
// so a display starts from truth rather than an empty screen.
func catchUp(ctx context.Context, client *authority.Client, cred auth.Credential, co *session.Coordinator) error {
	if cred.Role == models.RoleCustomer {
		return nil
	}
	orders, err := client.ListOrders(ctx, cred, "")
	if err != nil {
		return err
	}
	for _, o := range orders {
		if o.State.Terminal() {
			continue
		}
		co.Projection().Confirm(o)
		log.Printf("order %d is %s (%s)", o.ID, o.State, o.Total())
	}
	return nil
}

func submitDemoOrder(ctx context.Context, client *authority.Client, cred auth.Credential, co *session.Coordinator) error {
	var basket cart.Basket
	items, err := client.GetMenu(ctx, cred)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		item := items[0]
		var opts []models.SelectedOption
		for _, g := range item.Groups {
			if len(g.Options) > 0 {
				opts = append(opts, g.Options[0].Select())
			}
		}
		basket.Add(item, 2, opts, "")
	} else {
		basket.Add(
			models.MenuItem{ID: 1, Name: "Burger", BasePrice: 850},
			2,
			[]models.SelectedOption{
				{OptionID: 10, Name: "Cheese", Price: 100},
				{OptionID: 11, Name: "Olives", Price: 50},
			},
			"",
		)
	}
	log.Printf("Submitting demo order, total %s", basket.Total())

	created, err := client.SubmitOrder(ctx, cred, basket.ToOrder(cred.RestaurantID, nil))
	if err != nil {
		if errors.Is(err, authority.ErrSubscriptionExpired) {
			return fmt.Errorf("session expired, re-authenticate: %w", err)
		}
		return err
	}
	basket.Clear()

	co.Projection().Confirm(*created)
	co.WatchOrder(created.ID)
	log.Printf("Order %d accepted in state %s", created.ID, created.State)
	return nil
}

func mintSession(ctx context.Context, baseURL string, restaurantID, userID uint, role string) (string, error) {
	if role == "" || restaurantID == 0 || userID == 0 {
		return "", fmt.Errorf("-mint requires -role, -restaurant and -user")
	}
	body, _ := json.Marshal(map[string]interface{}{
		"restaurant_id": restaurantID,
		"user_id":       userID,
		"role":          role,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/api/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("session resolver returned status %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Token, nil
}

func wsURL(baseURL, token string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/ws?token=" + token
}
