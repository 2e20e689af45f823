package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name string
		role string
		perm string
		want bool
	}{
		{"owner accepts deal", RoleOwner, PermAcceptDeal, true},
		{"owner marks posted", RoleOwner, PermMarkPosted, true},
		{"advertiser cannot accept", RoleAdvertiser, PermAcceptDeal, false},
		{"advertiser cancels", RoleAdvertiser, PermCancelDeal, true},
		{"advertiser pays deposit", RoleAdvertiser, PermPayDeposit, true},
		{"owner cannot pay deposit", RoleOwner, PermPayDeposit, false},
		{"stranger sees nothing", RoleNone, PermViewDeal, false},
		{"unknown role", "moderator", PermViewDeal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}
