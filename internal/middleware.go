package internal

import (
	"fmt"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"

	"github.com/derWhity/cfpdesk/internal/ctxhelper"
	"github.com/derWhity/cfpdesk/internal/models"
)

// EnsureUserLoggedIn is a middleware that checks if there is a valid user session for the current call
func EnsureUserLoggedIn(next endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		user := ctxhelper.User(ctx)
		if user == nil {
			// Nobody logged in
			return nil, ErrNotLoggedIn
		}
		return next(ctx, request)
	}
}

// EnsurePermission returns a middleware that lets only logged-in users with at least one of the given permissions
// through
func EnsurePermission(perms ...string) endpoint.Middleware {
	return func(next endpoint.Endpoint) endpoint.Endpoint {
		return EnsureUserLoggedIn(func(ctx context.Context, request interface{}) (interface{}, error) {
			if _, err := requirePermission(ctx, perms...); err != nil {
				return nil, err
			}
			return next(ctx, request)
		})
	}
}

// currentUser returns the acting user of the call
func currentUser(ctx context.Context) (*models.User, error) {
	user := ctxhelper.User(ctx)
	if user == nil {
		return nil, ErrNotLoggedIn
	}
	return user, nil
}

// requirePermission returns the acting user if they have at least one of the permissions
func requirePermission(ctx context.Context, perms ...string) (*models.User, error) {
	user, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if user.HasPermission(p) {
			return user, nil
		}
	}
	return nil, MakeError(
		http.StatusForbidden,
		ErrCodeForbidden,
		fmt.Sprintf("This function needs one of the permissions %v", perms),
	)
}
