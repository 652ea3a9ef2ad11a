package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-gate/pkg/simplegate"
)

// Repository implements simplegate.UserRepository using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*simplegate.User
	byEmail map[string]uuid.UUID
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		users:   make(map[uuid.UUID]*simplegate.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *Repository) CreateUser(ctx context.Context, user *simplegate.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := r.byEmail[email]; exists {
		return simplegate.ErrEmailTaken
	}

	// Create a copy to avoid external modifications
	userCopy := *user
	r.users[user.ID] = &userCopy
	r.byEmail[email] = user.ID

	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*simplegate.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, simplegate.ErrUserNotFound
	}

	userCopy := *user
	return &userCopy, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*simplegate.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byEmail[strings.ToLower(email)]
	if !exists {
		return nil, simplegate.ErrUserNotFound
	}

	userCopy := *r.users[id]
	return &userCopy, nil
}

var _ simplegate.UserRepository = (*Repository)(nil)
