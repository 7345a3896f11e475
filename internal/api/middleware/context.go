package middleware

import (
	"net/http"
	"strconv"

	"github.com/roomsync/roomsync/internal/api/response"
	"github.com/roomsync/roomsync/internal/authz"
)

// Trusted identity headers set by the upstream gateway that terminates the
// panel's CRM-signed requests.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Identity reads the trusted identity headers and puts the resulting
// identity on the request context. Requests without both headers are
// rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err1 := strconv.ParseInt(r.Header.Get(HeaderTenantID), 10, 64)
		userID, err2 := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err1 != nil || err2 != nil || tenantID <= 0 || userID <= 0 {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_IDENTITY", "Missing or invalid identity headers", nil)
			return
		}

		ctx := authz.WithIdentity(r.Context(), authz.Identity{TenantID: tenantID, CRMUserID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIdentity extracts the identity placed by Identity. The second
// return is false when the middleware did not run.
func RequestIdentity(r *http.Request) (authz.Identity, bool) {
	return authz.IdentityFrom(r.Context())
}
