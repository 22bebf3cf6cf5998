package auth

import (
	"errors"
	"testing"

	"relaygate/pkg/types"
)

func TestDefaultPolicy_MessagePermissions(t *testing.T) {
	policy := DefaultPolicy()

	testCases := []struct {
		messageType string
		permission  string
	}{
		{types.MessageTypeConnectTCP, types.PermissionTCPConnect},
		{types.MessageTypeSendData, types.PermissionTCPSend},
		{types.MessageTypeCloseConnection, types.PermissionTCPClose},
		{types.MessageTypeHeartbeat, types.PermissionHeartbeat},
	}
	for _, tc := range testCases {
		perm, ok := policy.RequiredPermission(tc.messageType)
		if !ok || perm != tc.permission {
			t.Errorf("%s: expected %s, got %s (ok=%v)", tc.messageType, tc.permission, perm, ok)
		}
	}

	// Server→client types and AUTHENTICATE are not gated client requests.
	for _, mt := range []string{
		types.MessageTypeAuthenticate,
		types.MessageTypeAuthenticateResponse,
		types.MessageTypeConnectResponse,
		types.MessageTypeHeartbeatAck,
		types.MessageTypeError,
	} {
		if _, ok := policy.RequiredPermission(mt); ok {
			t.Errorf("%s should have no permission entry", mt)
		}
	}
}

func TestDefaultPolicy_UserCannotConnect(t *testing.T) {
	policy := DefaultPolicy()
	for _, p := range policy.PermissionsForRole(types.RoleUser) {
		if p == types.PermissionTCPConnect {
			t.Error("user role must not hold tcp_connect")
		}
	}
}

func TestPolicy_Immutability(t *testing.T) {
	rolePerms := map[string][]string{"tester": {"a", "b"}}
	msgPerms := map[string]string{"X": "a"}
	policy := NewPolicy(rolePerms, msgPerms, nil)

	rolePerms["tester"] = append(rolePerms["tester"], "c")
	msgPerms["X"] = "z"

	perms := policy.PermissionsForRole("tester")
	if len(perms) != 2 {
		t.Errorf("policy must copy role tables at construction, got %v", perms)
	}
	if perm, _ := policy.RequiredPermission("X"); perm != "a" {
		t.Errorf("policy must copy message tables at construction, got %s", perm)
	}

	// Mutating a returned slice must not leak back in.
	perms[0] = "mutated"
	again := policy.PermissionsForRole("tester")
	for _, p := range again {
		if p == "mutated" {
			t.Error("PermissionsForRole must return a fresh copy")
		}
	}
}

func TestPolicy_DialGuard(t *testing.T) {
	blocked := errors.New("target not allowed")
	policy := NewPolicy(nil, nil, func(host string, port int) error {
		if host == "10.0.0.1" {
			return blocked
		}
		return nil
	})

	if err := policy.AllowDial("example.com", 443); err != nil {
		t.Errorf("guard should allow example.com, got %v", err)
	}
	if err := policy.AllowDial("10.0.0.1", 22); !errors.Is(err, blocked) {
		t.Errorf("guard should block 10.0.0.1, got %v", err)
	}

	// Default policy has no guard: allow everything.
	if err := DefaultPolicy().AllowDial("10.0.0.1", 22); err != nil {
		t.Errorf("default policy should allow all targets, got %v", err)
	}
}

func TestPolicy_KnownRole(t *testing.T) {
	policy := DefaultPolicy()
	for _, role := range []string{types.RoleAdmin, types.RolePower, types.RoleUser} {
		if !policy.KnownRole(role) {
			t.Errorf("role %s should be known", role)
		}
	}
	if policy.KnownRole("phantom") {
		t.Error("unconfigured role must not be known")
	}
	if perms := policy.PermissionsForRole("phantom"); perms != nil {
		t.Errorf("unknown role must have nil permissions, got %v", perms)
	}
}
