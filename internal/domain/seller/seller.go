package seller

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a seller does not exist.
var ErrNotFound = errors.New("seller not found")

// Seller owns products and fulfils the orders placed for them.
type Seller struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Repository defines persistence operations for sellers.
type Repository interface {
	Create(ctx context.Context, s *Seller) error
	GetByID(ctx context.Context, id string) (*Seller, error)
	GetByEmail(ctx context.Context, email string) (*Seller, error)
}
