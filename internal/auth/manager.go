package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/vk/ftpgo/internal/ctxlog"
)

// Response is the outcome of a user lookup for the USER command.
type Response int

const (
	// OK means the user is logged in without a password.
	OK Response = iota + 1
	// PasswordRequired means PASS must follow.
	PasswordRequired
	// Error means the login is refused.
	Error
)

func (r Response) String() string {
	switch r {
	case OK:
		return "ok"
	case PasswordRequired:
		return "password_required"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("Response(%d)", int(r))
	}
}

// Manager resolves and authenticates users.
type Manager interface {
	// GetUser looks up login. A non-Error response reserves a connection
	// slot for the user until NotifyLogout.
	GetUser(ctx context.Context, login string) (Response, *User, string)
	// Authenticate checks password for user.
	Authenticate(ctx context.Context, user *User, password string) bool
	// NotifyLogout is called when a session that identified user ends or
	// switches to another user.
	NotifyLogout(ctx context.Context, user *User)
}

// AvailableConnections is a non-blocking counting semaphore. A non-positive
// maximum means unlimited.
type AvailableConnections struct {
	mu      sync.Mutex
	value   int
	maximum int
}

// NewAvailableConnections returns a counter with maximum free slots.
func NewAvailableConnections(maximum int) *AvailableConnections {
	return &AvailableConnections{value: maximum, maximum: maximum}
}

// Locked reports whether no slot is free.
func (a *AvailableConnections) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maximum > 0 && a.value == 0
}

// Acquire takes a slot. Taking more slots than exist is an error.
func (a *AvailableConnections) Acquire() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maximum <= 0 {
		return nil
	}
	if a.value == 0 {
		return errors.New("too many acquires")
	}
	a.value--
	return nil
}

// TryAcquire takes a slot if one is free.
func (a *AvailableConnections) TryAcquire() bool {
	return a.Acquire() == nil
}

// Release returns a slot. Returning more slots than were taken is an error.
func (a *AvailableConnections) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maximum <= 0 {
		return nil
	}
	if a.value == a.maximum {
		return errors.New("too many releases")
	}
	a.value++
	return nil
}

// MemoryManager keeps a fixed list of users in memory.
type MemoryManager struct {
	users     []*User
	available map[*User]*AvailableConnections
}

// NewMemoryManager creates a manager for users. An empty list yields a
// single anonymous user rooted at the working directory.
func NewMemoryManager(users []*User) (*MemoryManager, error) {
	if len(users) == 0 {
		anonymous, err := NewUser(User{})
		if err != nil {
			return nil, err
		}
		users = []*User{anonymous}
	}
	m := &MemoryManager{
		users:     users,
		available: make(map[*User]*AvailableConnections, len(users)),
	}
	for _, u := range users {
		m.available[u] = NewAvailableConnections(u.MaximumConnections)
	}
	return m, nil
}

// Users returns the managed users.
func (m *MemoryManager) Users() []*User {
	return m.users
}

// GetUser implements Manager. An exact login match wins over the first
// anonymous user.
func (m *MemoryManager) GetUser(ctx context.Context, login string) (Response, *User, string) {
	var user *User
	for _, u := range m.users {
		if u.Login == nil && user == nil {
			user = u
		} else if u.Login != nil && *u.Login == login {
			user = u
			break
		}
	}

	var (
		state Response
		info  string
	)
	switch {
	case user == nil:
		return Error, nil, "no such username"
	case !m.available[user].TryAcquire():
		return Error, nil, fmt.Sprintf("too much connections for '%s'", user.Name())
	case user.Login == nil:
		state, info = OK, "anonymous login"
	case user.Password == nil && user.PasswordHash == "":
		state, info = OK, "login without password"
	default:
		state, info = PasswordRequired, "password required"
	}

	ctxlog.FromContext(ctx).Debug("User resolved.", "login", login, "user", user.Name(), "state", state.String())
	return state, user, info
}

// Authenticate implements Manager.
func (m *MemoryManager) Authenticate(ctx context.Context, user *User, password string) bool {
	if user.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	}
	if user.Password == nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*user.Password), []byte(password)) == 1
}

// NotifyLogout implements Manager.
func (m *MemoryManager) NotifyLogout(ctx context.Context, user *User) {
	slots, ok := m.available[user]
	if !ok {
		return
	}
	if err := slots.Release(); err != nil {
		ctxlog.FromContext(ctx).Warn("Connection slot release failed.", "user", user.Name(), "error", err)
	}
}
