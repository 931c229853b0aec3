package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusOfUnwrapsWrappedError(t *testing.T) {
	base := New(http.StatusNotFound, "worksheet_not_found", errors.New("missing"))
	wrapped := fmt.Errorf("load worksheet: %w", base)

	status, code := StatusOf(wrapped, http.StatusInternalServerError, "internal")
	if status != http.StatusNotFound || code != "worksheet_not_found" {
		t.Fatalf("StatusOf: want=(404, worksheet_not_found) got=(%d, %s)", status, code)
	}
}

func TestStatusOfFallsBackForPlainErrors(t *testing.T) {
	status, code := StatusOf(errors.New("boom"), http.StatusBadGateway, "store_unavailable")
	if status != http.StatusBadGateway || code != "store_unavailable" {
		t.Fatalf("StatusOf: want=(502, store_unavailable) got=(%d, %s)", status, code)
	}
}
