package server

import "github.com/jrsteele09/go-fitness-auth/guard"

// Route path constants
// Page paths live in the guard's route table; these are the server's own endpoints.
const (
	// Auth pages handled by the server rather than the guard
	RouteOAuthCallback = guard.RouteOAuthCallback
	RouteSignOut       = guard.RouteSignOut

	// Auth API
	RouteAPISignUp         = "/api/auth/signup"
	RouteAPISignIn         = "/api/auth/signin"
	RouteAPISignInMFA      = "/api/auth/signin/mfa"
	RouteAPIOAuthStart     = "/api/auth/oauth/{provider}"
	RouteAPISignOut        = "/api/auth/signout"
	RouteAPIPasswordReset  = "/api/auth/password/reset"
	RouteAPIPasswordUpdate = "/api/auth/password/update"
	RouteAPIMFAEnroll      = "/api/auth/mfa/enroll"
	RouteAPIMFAVerify      = "/api/auth/mfa/verify"
	RouteAPIVerifyEmail    = "/api/auth/verify"
	RouteAPIResendVerify   = "/api/auth/verify/resend"
	RouteAPISession        = "/api/auth/session"
	RouteAPIOperation      = "/api/auth/operation"
	RouteAPIProfile        = "/api/profile"
	RouteHealth            = "/healthz"
)
