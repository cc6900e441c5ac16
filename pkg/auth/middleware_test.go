package auth

import (
	"net/http"
	"net/url"
	"testing"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		queryToken string
		want       string
	}{
		{
			name:       "bearer token in header",
			authHeader: "Bearer eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9",
			want:       "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9",
		},
		{
			name:       "bearer token with lowercase",
			authHeader: "Bearer token123",
			want:       "token123",
		},
		{
			name:       "no token",
			authHeader: "",
			want:       "",
		},
		{
			name:       "non-bearer auth header",
			authHeader: "Basic dXNlcjpwYXNz",
			want:       "",
		},
		{
			name:       "token in query parameter",
			queryToken: "query-token-123",
			want:       "query-token-123",
		},
		{
			name:       "header takes precedence over query",
			authHeader: "Bearer header-token",
			queryToken: "query-token",
			want:       "header-token",
		},
		{
			name:       "empty bearer prefix",
			authHeader: "Bearer ",
			want:       "",
		},
		{
			name:       "bearer without space",
			authHeader: "Bearertoken",
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create a request with the appropriate header/query
			reqURL := "http://example.com/test"
			if tt.queryToken != "" {
				reqURL += "?token=" + url.QueryEscape(tt.queryToken)
			}

			req, err := http.NewRequest("GET", reqURL, nil)
			if err != nil {
				t.Fatalf("failed to create request: %v", err)
			}

			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			got := ExtractToken(req)
			if got != tt.want {
				t.Errorf("ExtractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractToken_MultipleQueryParams(t *testing.T) {
	// Test that other query params don't interfere
	req, _ := http.NewRequest("GET", "http://example.com/test?foo=bar&token=mytoken&baz=qux", nil)
	got := ExtractToken(req)
	if got != "mytoken" {
		t.Errorf("ExtractToken() with multiple params = %q, want %q", got, "mytoken")
	}
}

func TestExtractToken_SpecialCharactersInToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{
			name:  "token with dots",
			token: "part1.part2.part3",
		},
		{
			name:  "token with dashes",
			token: "abc-def-ghi",
		},
		{
			name:  "token with underscores",
			token: "lv_abc_def_123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "http://example.com/test", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)

			got := ExtractToken(req)
			if got != tt.token {
				t.Errorf("ExtractToken() = %q, want %q", got, tt.token)
			}
		})
	}
}
