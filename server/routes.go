package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// OAuth return and sign-out
	s.RegisterRouteHandler("GET "+RouteOAuthCallback, ChainMiddleware(s.OAuthCallbackHandler(), s.PageMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSignOut, ChainMiddleware(s.SignOutPageHandler(), s.PageMiddleware()...))

	// Auth API
	s.RegisterRouteHandler("POST "+RouteAPISignUp, ChainMiddleware(s.SignUpHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPISignIn, ChainMiddleware(s.SignInHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPISignInMFA, ChainMiddleware(s.SignInMFAHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIOAuthStart, ChainMiddleware(s.OAuthStartHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPISignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIPasswordReset, ChainMiddleware(s.PasswordResetHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIPasswordUpdate, ChainMiddleware(s.PasswordUpdateHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIMFAEnroll, ChainMiddleware(s.MFAEnrollHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIMFAVerify, ChainMiddleware(s.MFAVerifyHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIVerifyEmail, ChainMiddleware(s.VerifyEmailHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIResendVerify, ChainMiddleware(s.ResendVerificationHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAPIOperation, ChainMiddleware(s.OperationHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteAPIProfile, ChainMiddleware(s.UpdateProfileHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Every other path is a page navigation decided by the route guard
	s.RegisterRouteHandler("GET /", ChainMiddleware(s.PageHandler(), s.PageMiddleware()...))
}
