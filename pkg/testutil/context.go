package testutil

import (
	"net/http"

	id "reliefhub/pkg/domain"
	"reliefhub/pkg/requestcontext"
)

// WithActor attaches an authenticated actor to the request, as RequireAuth would.
func WithActor(req *http.Request, userID id.UserID, role id.Role) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	ctx = requestcontext.WithRole(ctx, role)
	return req.WithContext(ctx)
}
