package match

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"User_ID", "userid"},
		{"user.id", "userid"},
		{"created_at", "createdat"},
		{"CamelCase", "camelcase"},
		{"área_código", "areacodigo"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		column     string
		candidates []string
		want       string
		wantOK     bool
	}{
		{
			name:       "exact top-level path",
			column:     "user_id",
			candidates: []string{"email", "user_id"},
			want:       "user_id",
			wantOK:     true,
		},
		{
			name:       "last segment beats nested full-path lookalike",
			column:     "user_id",
			candidates: []string{"user.id", "other.user_id"},
			want:       "other.user_id",
			wantOK:     true,
		},
		{
			name:       "case and underscore folding",
			column:     "CreatedAt",
			candidates: []string{"meta.created_at"},
			want:       "meta.created_at",
			wantOK:     true,
		},
		{
			name:       "containment fallback",
			column:     "id",
			candidates: []string{"payload.order_identifier"},
			want:       "payload.order_identifier",
			wantOK:     true,
		},
		{
			name:       "first candidate wins within a stage",
			column:     "amount",
			candidates: []string{"order.amount", "refund.amount"},
			want:       "order.amount",
			wantOK:     true,
		},
		{
			name:       "stage order beats candidate order",
			column:     "city",
			candidates: []string{"address.city_name", "geo.city"},
			want:       "geo.city",
			wantOK:     true,
		},
		{
			name:       "no match",
			column:     "price",
			candidates: []string{"user.id", "email"},
			want:       "",
			wantOK:     false,
		},
		{
			name:       "empty candidates",
			column:     "price",
			candidates: nil,
			want:       "",
			wantOK:     false,
		},
		{
			name:       "empty column never matches",
			column:     "",
			candidates: []string{"a"},
			want:       "",
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := BestMatch(tt.column, tt.candidates)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("BestMatch(%q, %v) = (%q, %v), want (%q, %v)",
					tt.column, tt.candidates, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
