package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTenantIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/entries", nil)
	if got := TenantIDFromRequest(req); got != "" {
		t.Fatalf("TenantIDFromRequest()=%q, want empty", got)
	}

	req.Header.Set(HeaderTenant, " tenant-1 ")
	if got := TenantIDFromRequest(req); got != "tenant-1" {
		t.Fatalf("TenantIDFromRequest()=%q, want tenant-1", got)
	}

	req = httptest.NewRequest(http.MethodGet, "http://example.test/entries?tenant_id=tenant-2", nil)
	if got := TenantIDFromRequest(req); got != "tenant-2" {
		t.Fatalf("TenantIDFromRequest()=%q, want tenant-2", got)
	}
}

func TestRequireTenantIDResolver(t *testing.T) {
	resolve := RequireTenantIDResolver([]string{"/webhooks/"})

	req := httptest.NewRequest(http.MethodGet, "http://example.test/entries", nil)
	if _, err := resolve(req, Identity{}); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("err=%v, want ErrTenantRequired", err)
	}

	got, err := resolve(req, Identity{Tenant: "tenant-1"})
	if err != nil {
		t.Fatalf("resolve() err=%v", err)
	}
	if got != "tenant-1" {
		t.Fatalf("tenant=%q, want tenant-1", got)
	}

	// identity tenant wins over request-supplied values
	req.Header.Set(HeaderTenant, "tenant-other")
	got, err = resolve(req, Identity{Tenant: "tenant-1"})
	if err != nil {
		t.Fatalf("resolve() err=%v", err)
	}
	if got != "tenant-1" {
		t.Fatalf("tenant=%q, want tenant-1", got)
	}

	skip := httptest.NewRequest(http.MethodPost, "http://example.test/webhooks/esign", nil)
	got, err = resolve(skip, Identity{})
	if err != nil {
		t.Fatalf("resolve() err=%v", err)
	}
	if got != "" {
		t.Fatalf("tenant=%q, want empty for skipped prefix", got)
	}
}
