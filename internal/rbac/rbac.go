package rbac

import "github.com/fundsafe/backend/internal/models"

// Escrow-relative roles
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
	RoleAdmin    = "admin"
)

// Permission constants
const (
	PermFund           = "fund"
	PermRequestRelease = "request_release"
	PermOpenDispute    = "open_dispute"
	PermResolveDispute = "resolve_dispute"
	PermUpdateMetadata = "update_metadata"
	PermCancel         = "cancel"
	PermRefund         = "refund"
	PermEscalate       = "escalate"
	PermComplianceTAC  = "compliance_tac"
	PermView           = "view"
)

// RolePermissions defines what each role can do on an escrow.
var RolePermissions = map[string][]string{
	RoleSender: {
		PermFund, PermRequestRelease, PermOpenDispute, PermUpdateMetadata,
		PermCancel, PermEscalate, PermComplianceTAC, PermView,
	},
	RoleReceiver: {
		PermRequestRelease, PermOpenDispute, PermRefund,
		PermEscalate, PermComplianceTAC, PermView,
		// Receiver CANNOT: PermFund, PermUpdateMetadata, PermCancel
	},
	RoleAdmin: {
		PermResolveDispute, PermCancel, PermRefund, PermEscalate, PermComplianceTAC, PermView,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// RolesFor returns every role the actor holds on the escrow. A platform admin
// who is also a party holds both roles.
func RolesFor(e *models.Escrow, actor models.Actor) []string {
	var roles []string
	if actor.ID != "" && actor.ID == e.SenderID {
		roles = append(roles, RoleSender)
	}
	if actor.ID != "" && actor.ID == e.ReceiverID {
		roles = append(roles, RoleReceiver)
	}
	if actor.IsAdmin() {
		roles = append(roles, RoleAdmin)
	}
	return roles
}

// Can reports whether any of the actor's roles on the escrow grants permission.
func Can(e *models.Escrow, actor models.Actor, permission string) bool {
	for _, r := range RolesFor(e, actor) {
		if HasPermission(r, permission) {
			return true
		}
	}
	return false
}
