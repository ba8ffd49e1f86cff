package domain

// Standard roles.
const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)

// HasAnyRole reports whether roles contains at least one of the required roles.
// An empty requirement always passes.
func HasAnyRole(roles []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, have := range roles {
		for _, want := range required {
			if have == want {
				return true
			}
		}
	}
	return false
}
