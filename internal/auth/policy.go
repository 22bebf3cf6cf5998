package auth

import (
	"relaygate/pkg/types"
)

// DialGuard optionally restricts CONNECT_TCP targets. The default policy
// allows every host/port; deployments can install ACLs here.
type DialGuard func(host string, port int) error

// Policy is the immutable role→permission and message-type→permission
// mapping consulted by the authorization gate. It is constructed once and
// passed in explicitly; there is no process-wide table. Centralizing the
// mapping keeps handlers from drifting apart on what each role may do.
type Policy struct {
	rolePermissions    map[string]map[string]bool
	messagePermissions map[string]string
	dialGuard          DialGuard
}

// NewPolicy copies the supplied tables so later mutation of the arguments
// cannot change an issued policy.
func NewPolicy(rolePermissions map[string][]string, messagePermissions map[string]string, guard DialGuard) Policy {
	roles := make(map[string]map[string]bool, len(rolePermissions))
	for role, perms := range rolePermissions {
		set := make(map[string]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		roles[role] = set
	}
	msgs := make(map[string]string, len(messagePermissions))
	for t, p := range messagePermissions {
		msgs[t] = p
	}
	return Policy{
		rolePermissions:    roles,
		messagePermissions: msgs,
		dialGuard:          guard,
	}
}

// DefaultPolicy is the shipped role table. The "user" role deliberately
// lacks tcp_connect: it may use tunnels opened on its behalf but cannot
// open new ones.
func DefaultPolicy() Policy {
	return NewPolicy(
		map[string][]string{
			types.RoleAdmin: {
				types.PermissionTCPConnect,
				types.PermissionTCPSend,
				types.PermissionTCPClose,
				types.PermissionHeartbeat,
				types.PermissionAdminOperation,
			},
			types.RolePower: {
				types.PermissionTCPConnect,
				types.PermissionTCPSend,
				types.PermissionTCPClose,
				types.PermissionHeartbeat,
			},
			types.RoleUser: {
				types.PermissionTCPSend,
				types.PermissionTCPClose,
				types.PermissionHeartbeat,
			},
		},
		map[string]string{
			types.MessageTypeConnectTCP:      types.PermissionTCPConnect,
			types.MessageTypeSendData:        types.PermissionTCPSend,
			types.MessageTypeCloseConnection: types.PermissionTCPClose,
			types.MessageTypeHeartbeat:       types.PermissionHeartbeat,
		},
		nil,
	)
}

// PermissionsForRole returns a fresh copy of the role's permission set,
// suitable for snapshotting into a session at issuance.
func (p Policy) PermissionsForRole(role string) []string {
	set, ok := p.rolePermissions[role]
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	return perms
}

// KnownRole reports whether the role appears in the policy table.
func (p Policy) KnownRole(role string) bool {
	_, ok := p.rolePermissions[role]
	return ok
}

// RequiredPermission resolves the permission gating a message type. Types
// with no entry (server→client replies, AUTHENTICATE) are not dispatchable
// as gated client requests.
func (p Policy) RequiredPermission(messageType string) (string, bool) {
	perm, ok := p.messagePermissions[messageType]
	return perm, ok
}

// AllowDial consults the optional target ACL for a CONNECT_TCP request.
func (p Policy) AllowDial(host string, port int) error {
	if p.dialGuard == nil {
		return nil
	}
	return p.dialGuard(host, port)
}
