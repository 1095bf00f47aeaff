package tokens

import "fmt"

// Role is the closed set of authorization roles a token may carry.
// Anything outside this set is rejected at parse time so a mistyped
// claim can never slip through a string comparison.
type Role string

const (
	RoleUser    Role = "user"
	RoleAdmin   Role = "admin"
	RoleService Role = "service"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin, RoleService:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}
