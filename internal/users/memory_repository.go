package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]User
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]User)}
}

func (r *MemoryRepository) Create(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return User{}, ErrEmailTaken
		}
		if existing.Username == u.Username {
			return User{}, ErrUsernameTaken
		}
	}
	r.byID[u.ID] = u
	return u, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (User, error) {
	return r.find(func(u User) bool { return u.Username == username })
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (User, error) {
	return r.find(func(u User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *MemoryRepository) find(match func(User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if match(u) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *MemoryRepository) ListExcept(_ context.Context, id string) ([]User, error) {
	r.mu.RLock()
	out := make([]User, 0, len(r.byID))
	for _, u := range r.byID {
		if u.ID != id {
			out = append(out, u)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *MemoryRepository) UpdateProfilePic(_ context.Context, id, url string, at time.Time) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.ProfilePic = url
	u.UpdatedAt = at
	r.byID[id] = u
	return u, nil
}
