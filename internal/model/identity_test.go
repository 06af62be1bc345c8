package model

import (
	"testing"
	"time"
)

func TestIdentity_SameAs(t *testing.T) {
	a := &Identity{ID: "user-1", Email: "a@example.com"}
	b := &Identity{ID: "user-1", Email: "changed@example.com"}
	c := &Identity{ID: "user-2"}

	tests := []struct {
		name  string
		left  *Identity
		right *Identity
		want  bool
	}{
		{"same id", a, b, true},
		{"different id", a, c, false},
		{"both nil", nil, nil, true},
		{"left nil", nil, a, false},
		{"right nil", a, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.left.SameAs(tt.right); got != tt.want {
				t.Errorf("SameAs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_Principal_NilSession(t *testing.T) {
	var s *Session
	if s.Principal() != nil {
		t.Error("nil session should have nil principal")
	}
}

func TestSession_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s := &Session{ExpiresAt: now.Add(5 * time.Second)}
	if !s.ExpiresWithin(now, 10*time.Second) {
		t.Error("session expiring in 5s should be within 10s margin")
	}

	s = &Session{ExpiresAt: now.Add(time.Hour)}
	if s.ExpiresWithin(now, 10*time.Second) {
		t.Error("session expiring in 1h should not be within 10s margin")
	}

	s = &Session{}
	if s.ExpiresWithin(now, 10*time.Second) {
		t.Error("session without expiry should never be treated as expiring")
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("kakao")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != ProviderKakao {
		t.Errorf("ParseProvider(kakao) = %v, want %v", p, ProviderKakao)
	}

	if _, err := ParseProvider("github"); err == nil {
		t.Error("expected error for unsupported provider")
	}

	if Provider(99).Valid() {
		t.Error("Provider(99) should not be valid")
	}
}

func TestParsePlaceField(t *testing.T) {
	if _, err := ParsePlaceField("placeUrl"); err != nil {
		t.Errorf("placeUrl should be accepted: %v", err)
	}
	if _, err := ParsePlaceField("id"); err == nil {
		t.Error("id should not be an editable field")
	}
}
