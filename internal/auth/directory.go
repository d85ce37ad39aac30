package auth

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// NewUser is the input to CreateUser
type NewUser struct {
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Role           types.UserRole `json:"role"`
	Department     string         `json:"department,omitempty"`
	Specialization string         `json:"specialization,omitempty"`
	Avatar         string         `json:"avatar,omitempty"`
	Permissions    []string       `json:"permissions,omitempty"`
}

// Directory is the in-memory staff directory. Listing and creating users
// is restricted to admins.
type Directory struct {
	mu     sync.RWMutex
	users  []types.User
	lastID int64
	now    func() time.Time
	logger *logger.Logger
}

// NewDirectory creates a directory seeded with users
func NewDirectory(log *logger.Logger, users ...types.User) *Directory {
	return &Directory{
		users:  append([]types.User(nil), users...),
		now:    time.Now,
		logger: log,
	}
}

// ListUsers returns every user. The caller must be an admin.
func (d *Directory) ListUsers(caller Oracle) ([]types.User, error) {
	if !caller.HasRole(types.RoleAdmin) {
		return nil, types.ErrUnauthorized
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.User{}, d.users...), nil
}

// CreateUser adds a user. Permissions default to the role's permission
// set. The caller must be an admin.
func (d *Directory) CreateUser(caller Oracle, in NewUser) (types.User, error) {
	callerID := ""
	if p, ok := caller.(interface{ ID() string }); ok {
		callerID = p.ID()
	}

	if !caller.HasRole(types.RoleAdmin) {
		d.logger.Audit(callerID, "create_user", "users", false, map[string]interface{}{"reason": "not admin"})
		return types.User{}, types.ErrUnauthorized
	}
	if !in.Role.Valid() {
		return types.User{}, types.NewValidationError(types.ErrCodeInvalidInput, "invalid role", map[string]interface{}{
			"role": string(in.Role),
		})
	}
	if !strings.Contains(in.Email, "@") {
		return types.User{}, types.NewValidationError(types.ErrCodeInvalidInput, "invalid email", nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if strings.EqualFold(u.Email, in.Email) {
			return types.User{}, types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("user %s already exists", in.Email), nil)
		}
	}

	ms := d.now().UnixMilli()
	if ms <= d.lastID {
		ms = d.lastID + 1
	}
	d.lastID = ms

	permissions := in.Permissions
	if len(permissions) == 0 {
		permissions = append([]string(nil), types.RolePermissions[in.Role]...)
	}

	user := types.User{
		ID:             "user_" + strconv.FormatInt(ms, 10),
		Email:          in.Email,
		Name:           in.Name,
		Role:           in.Role,
		Department:     in.Department,
		Specialization: in.Specialization,
		Avatar:         in.Avatar,
		Permissions:    permissions,
	}
	d.users = append(d.users, user)

	d.logger.Audit(callerID, "create_user", "users", true, map[string]interface{}{
		"new_user_id": user.ID,
		"role":        string(user.Role),
	})
	return user, nil
}
