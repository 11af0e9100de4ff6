package models

// Actor is the caller identity resolved upstream by the auth middleware.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"` // user/admin/system
	IP          string `json:"-"`
}

const (
	ActorRoleUser   = "user"
	ActorRoleAdmin  = "admin"
	ActorRoleSystem = "system"
)

func (a Actor) IsAdmin() bool {
	return a.Role == ActorRoleAdmin
}

// IPPtr returns the request IP for audit entries, nil when unknown.
func (a Actor) IPPtr() *string {
	if a.IP == "" {
		return nil
	}
	ip := a.IP
	return &ip
}
