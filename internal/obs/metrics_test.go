package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/content/abc":                "/v1/content/:id",
		"/v1/content/abc/download":       "/v1/content/:id/download",
		"/v1/content/abc/download?x=1":   "/v1/content/:id/download",
		"/v1/users/42/role":              "/v1/users/:id/role",
		"/v1/auth/telegram/token":        "/v1/auth/telegram/token",
		"/v1/content/abc/extra/trailing": "/v1/content/abc/extra/trailing",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
