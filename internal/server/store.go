package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite" // sqlite driver
	"tableflow/internal/models"
)

// ErrNotFound is returned when an order id is unknown.
var ErrNotFound = errors.New("order not found")

// OrderStore persists authoritative order records.
type OrderStore struct {
	db *gorm.DB
}

// OpenStore opens (or creates) the sqlite database and migrates the
// order schema.
func OpenStore(path string) (*OrderStore, error) {
	db, err := gorm.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	store := &OrderStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *OrderStore) migrate() error {
	if err := s.db.AutoMigrate(
		&models.Order{},
		&models.OrderLine{},
		&models.SelectedOption{},
		&models.MenuItem{},
		&models.OptionGroup{},
		&models.MenuOption{},
	).Error; err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *OrderStore) Close() error {
	return s.db.Close()
}

// Create persists a new order with its lines and options, assigning the
// order id.
func (s *OrderStore) Create(order *models.Order) error {
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if err := s.db.Create(order).Error; err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

// Get loads one order with its lines and options.
func (s *OrderStore) Get(id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.Preload("Lines").Preload("Lines.Options").
		Where("id = ?", id).First(&order).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading order %d: %w", id, err)
	}
	return &order, nil
}

// List returns a restaurant's orders, newest last, optionally filtered
// by state.
func (s *OrderStore) List(restaurantID uint, state models.OrderState) ([]models.Order, error) {
	query := s.db.Preload("Lines").Preload("Lines.Options").
		Where("restaurant_id = ?", restaurantID).
		Order("id asc")
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// SaveMenuItem validates and persists a catalog item with its option
// groups.
func (s *OrderStore) SaveMenuItem(item *models.MenuItem) error {
	if err := models.ValidateMenuItem(*item); err != nil {
		return err
	}
	if err := s.db.Save(item).Error; err != nil {
		return fmt.Errorf("saving menu item: %w", err)
	}
	return nil
}

// Menu returns a restaurant's available items with their option groups.
func (s *OrderStore) Menu(restaurantID uint) ([]models.MenuItem, error) {
	var items []models.MenuItem
	err := s.db.Preload("Groups").Preload("Groups.Options").
		Where("restaurant_id = ? AND available = ?", restaurantID, true).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("listing menu: %w", err)
	}
	return items, nil
}

// SetState persists a state change and bumps the update timestamp.
func (s *OrderStore) SetState(id uint, state models.OrderState) (*models.Order, error) {
	order, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	order.State = state
	order.UpdatedAt = time.Now()
	err = s.db.Model(&models.Order{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      string(state),
			"updated_at": order.UpdatedAt,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("updating order %d: %w", id, err)
	}
	return order, nil
}
