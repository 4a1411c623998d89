package domain

import "time"

// ──────────────────────────────────────────────────────────────────────────────
// UserRole
// ──────────────────────────────────────────────────────────────────────────────

// UserRole controls access levels in the back-office.
type UserRole string

const (
	RoleUser     UserRole = "user"     // standard bettor
	RoleAdmin    UserRole = "admin"    // full back-office access
	RoleOps      UserRole = "ops"      // event management and settlement
	RoleReadOnly UserRole = "readonly" // read-only back-office access
)

// CanAccessBackoffice returns true for all non-standard roles.
func (r UserRole) CanAccessBackoffice() bool {
	return r != RoleUser && r != ""
}

// CanSettle returns true for roles allowed to move money or resolve events.
func (r UserRole) CanSettle() bool {
	return r == RoleAdmin || r == RoleOps
}

// ──────────────────────────────────────────────────────────────────────────────
// User
// ──────────────────────────────────────────────────────────────────────────────

// User is a Telegram account that has opened the mini-app at least once.
// ID is the Telegram user id and doubles as the ledger account key.
type User struct {
	ID           int64     `json:"id"            db:"id"`
	Username     string    `json:"username"      db:"username"`
	FirstName    string    `json:"first_name"    db:"first_name"`
	LastName     string    `json:"last_name"     db:"last_name"`
	LanguageCode string    `json:"language_code" db:"language_code"`
	Role         UserRole  `json:"role"          db:"role"`
	IsActive     bool      `json:"is_active"     db:"is_active"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    db:"updated_at"`
}

// DisplayName returns @username when set, otherwise the first name.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
