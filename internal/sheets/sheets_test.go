package sheets

import (
	"errors"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestWrapAPIErrorRateLimit(t *testing.T) {
	err := wrapAPIError("append rows", &googleapi.Error{Code: http.StatusTooManyRequests})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("429 should map to ErrRateLimited, got %v", err)
	}
}

func TestWrapAPIErrorOther(t *testing.T) {
	err := wrapAPIError("read range", &googleapi.Error{Code: http.StatusForbidden})
	if errors.Is(err, ErrRateLimited) {
		t.Errorf("403 must not map to ErrRateLimited, got %v", err)
	}
	if err == nil {
		t.Error("expected an error")
	}
}
