package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKeyTenantID struct{}

// ErrTenantRequired indicates a missing tenant scope for a request.
var ErrTenantRequired = errors.New("tenant_required")

// TenantResolver extracts a tenant identifier for the request.
type TenantResolver func(r *http.Request, identity Identity) (string, error)

func ContextWithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID{}, strings.TrimSpace(tenantID))
}

func TenantIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(ctxKeyTenantID{}).(string)
	return strings.TrimSpace(value), ok
}

// TenantIDFromRequest checks the stamped header and query string for a tenant id.
func TenantIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderTenant)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("tenant_id")); v != "" {
		return v
	}
	return ""
}

// RequireTenantIDResolver enforces tenant scoping for requests except listed prefixes.
// The identity's tenant wins over request-supplied values.
func RequireTenantIDResolver(skipPrefixes []string) TenantResolver {
	return func(r *http.Request, identity Identity) (string, error) {
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				return "", nil
			}
		}
		if tenantID := strings.TrimSpace(identity.Tenant); tenantID != "" {
			return tenantID, nil
		}
		tenantID := TenantIDFromRequest(r)
		if tenantID == "" {
			return "", ErrTenantRequired
		}
		return tenantID, nil
	}
}
