package auth

import (
	"errors"
	"testing"

	"github.com/taigalab/taigactl/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name       string
		configured string
		presented  string
		wantErr    error
	}{
		{name: "unset token accepts nothing", configured: "", presented: "taiga-admin", wantErr: ErrUnauthorized},
		{name: "wrong token denied", configured: "taiga-admin", presented: "taiga-guest", wantErr: ErrUnauthorized},
		{name: "empty presented token denied", configured: "taiga-admin", presented: "", wantErr: ErrUnauthorized},
		{name: "matching token accepted", configured: "taiga-admin", presented: "taiga-admin", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := StaticToken{Token: tc.configured}
			if err := v.Validate(tc.presented); !errors.Is(err, tc.wantErr) {
				t.Fatalf("validate: expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerFromHeader(t *testing.T) {
	testlog.Start(t)
	if tok, ok := BearerFromHeader("Bearer abc123"); !ok || tok != "abc123" {
		t.Fatalf("expected token abc123, got %q ok=%v", tok, ok)
	}
	if tok, ok := BearerFromHeader("  Bearer abc123  "); !ok || tok != "abc123" {
		t.Fatalf("expected trimmed token abc123, got %q ok=%v", tok, ok)
	}
	if _, ok := BearerFromHeader("Basic abc123"); ok {
		t.Fatalf("expected rejection for non-bearer scheme")
	}
	if _, ok := BearerFromHeader("Bearer "); ok {
		t.Fatalf("expected rejection for empty token")
	}
	if _, ok := BearerFromHeader(""); ok {
		t.Fatalf("expected rejection for empty header")
	}
}
