package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/":                              "/",
		"/metrics":                       "/metrics",
		"/api/auth/login":                "/api/auth/login",
		"/api/auth/me/":                  "/api/auth/me",
		"/api/auth/reissue?debug=1":      "/api/auth/reissue",
		"/api/projects/42":               "other",
		"/api/auth/logout/extra/segment": "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	ObserveLogin("success")
	ObserveRefreshScan(3)
}
