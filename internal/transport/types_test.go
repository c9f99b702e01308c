package transport

import "testing"

func TestUserDisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		u    User
		want string
	}{
		{name: "full name", u: User{ID: 1, FirstName: "Ada", LastName: "Lovelace", Username: "ada"}, want: "Ada Lovelace"},
		{name: "first only", u: User{ID: 1, FirstName: " Ada "}, want: "Ada"},
		{name: "username", u: User{ID: 1, Username: "ada"}, want: "@ada"},
		{name: "id", u: User{ID: 42}, want: "42"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.u.DisplayName(); got != tt.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}
