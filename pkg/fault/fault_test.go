package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindNotFound, "role missing")
	if got := KindOf(err); got != KindNotFound {
		t.Fatalf("KindOf = %s, want %s", got, KindNotFound)
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := New(KindRateLimited, "too many attempts")
	outer := fmt.Errorf("login: %w", inner)
	if got := KindOf(outer); got != KindRateLimited {
		t.Fatalf("KindOf through fmt wrap = %s, want %s", got, KindRateLimited)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("plain error kind = %s, want internal", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, "dial provider", cause)
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause lost")
	}
	if KindOf(err) != KindNetwork {
		t.Fatalf("kind = %s, want network", KindOf(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindInternal, "x", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
}

func TestRetriable(t *testing.T) {
	retriable := []Kind{KindRateLimit, KindTimeout, KindNetwork, KindProviderUnavailable}
	for _, k := range retriable {
		if !Retriable(k) {
			t.Errorf("Retriable(%s) = false, want true", k)
		}
	}
	terminal := []Kind{KindAuthentication, KindTokenLimit, KindInvalidResponse, KindInvalidInput, KindInternal}
	for _, k := range terminal {
		if Retriable(k) {
			t.Errorf("Retriable(%s) = true, want false", k)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthenticated:    http.StatusUnauthorized,
		KindUnauthorized:       http.StatusForbidden,
		KindRateLimited:        http.StatusTooManyRequests,
		KindNotFound:           http.StatusNotFound,
		KindInvalidInput:       http.StatusBadRequest,
		KindConflict:           http.StatusConflict,
		KindChainBroken:        http.StatusInternalServerError,
		KindStorageUnavailable: http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}
