package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sleepymole/vjudge-dispatcher/siteclient"
)

func TestGetReturnsBodyWhenMarkerUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(time.Second)
	body, err := c.Get(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if body != "hello" {
		t.Fatalf("body = %q, want %q", body, "hello")
	}
}

func TestGetReturnsLoginRequiredWhenMarkerPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>Sign In Your Account</html>"))
	}))
	defer srv.Close()

	c := New(time.Second)
	c.LoginRequiredMarker = "Sign In Your Account"
	_, err := c.Get(t.Context(), srv.URL)
	se, ok := err.(*siteclient.Error)
	if !ok || se.Kind != siteclient.KindLoginRequired {
		t.Fatalf("err = %v, want a *siteclient.Error with KindLoginRequired", err)
	}
}
