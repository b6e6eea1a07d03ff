package guard

import "strings"

const (
	RouteHome           = "/"
	RouteAbout          = "/about"
	RouteTerms          = "/terms"
	RoutePrivacy        = "/privacy"
	RouteSignIn         = "/auth/signin"
	RouteSignUp         = "/auth/signup"
	RouteForgotPassword = "/auth/forgot-password"
	RouteResetPassword  = "/auth/reset-password"
	RouteVerify         = "/auth/verify"
	RouteOAuthCallback  = "/auth/callback"
	RouteSignOut        = "/auth/signout"
	RouteDashboard      = "/dashboard"
	RouteFitness        = "/dashboard/fitness"
	RouteRefer          = "/dashboard/refer"
	RouteSettings       = "/settings"
	RouteSecurity       = "/settings/security"
	RouteProfile        = "/settings/profile"
	RoutePreferences    = "/preferences"
)

// Access says whether a route needs a session.
type Access int

const (
	Protected Access = iota
	Public
)

func (a Access) String() string {
	if a == Public {
		return "public"
	}
	return "protected"
}

// Route is one named page of the application.
type Route struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Access Access `json:"-"`
}

// Routes is the route table. Paths not listed here are protected.
var Routes = []Route{
	{Name: "home", Path: RouteHome, Access: Public},
	{Name: "about", Path: RouteAbout, Access: Public},
	{Name: "terms", Path: RouteTerms, Access: Public},
	{Name: "privacy", Path: RoutePrivacy, Access: Public},
	{Name: "sign-in", Path: RouteSignIn, Access: Public},
	{Name: "sign-up", Path: RouteSignUp, Access: Public},
	{Name: "forgot-password", Path: RouteForgotPassword, Access: Public},
	{Name: "reset-password", Path: RouteResetPassword, Access: Public},
	{Name: "verify", Path: RouteVerify, Access: Public},
	{Name: "oauth-callback", Path: RouteOAuthCallback, Access: Public},
	{Name: "sign-out", Path: RouteSignOut, Access: Protected},
	{Name: "dashboard", Path: RouteDashboard, Access: Protected},
	{Name: "fitness", Path: RouteFitness, Access: Protected},
	{Name: "refer", Path: RouteRefer, Access: Protected},
	{Name: "settings", Path: RouteSettings, Access: Protected},
	{Name: "security", Path: RouteSecurity, Access: Protected},
	{Name: "profile", Path: RouteProfile, Access: Protected},
	{Name: "preferences", Path: RoutePreferences, Access: Protected},
}

var routeIndex = func() map[string]Route {
	idx := make(map[string]Route, len(Routes))
	for _, r := range Routes {
		idx[r.Path] = r
	}
	return idx
}()

// Lookup returns the route registered for path.
func Lookup(path string) (Route, bool) {
	r, ok := routeIndex[normalise(path)]
	return r, ok
}

// AccessFor returns the access level of path. Unknown paths are protected.
func AccessFor(path string) Access {
	if r, ok := Lookup(path); ok {
		return r.Access
	}
	return Protected
}

func normalise(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return RouteHome
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
