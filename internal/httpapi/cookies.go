package httpapi

import (
	"net/http"
	"time"

	"storefront-auth/internal/auth"
	sessiondomain "storefront-auth/internal/session/domain"
)

// Cookie names per channel. The namespaces are disjoint so a browser holding
// both a shop and an admin session never mixes them up.
const (
	customerAccessCookie  = "sf_access"
	customerRefreshCookie = "sf_refresh"
	adminAccessCookie     = "sf_admin_access"
	adminRefreshCookie    = "sf_admin_refresh"
)

func cookieNames(channel sessiondomain.Channel) (access, refresh string) {
	if channel == sessiondomain.ChannelAdmin {
		return adminAccessCookie, adminRefreshCookie
	}
	return customerAccessCookie, customerRefreshCookie
}

// refreshPath scopes the refresh cookie to the channel's auth prefix so it
// never rides along on ordinary API calls.
func refreshPath(channel sessiondomain.Channel) string {
	if channel == sessiondomain.ChannelAdmin {
		return "/v1/admin/auth"
	}
	return "/v1/auth"
}

func (a *API) setPairCookies(w http.ResponseWriter, channel sessiondomain.Channel, pair auth.TokenPair) {
	access, refresh := cookieNames(channel)
	http.SetCookie(w, &http.Cookie{
		Name:     access,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   a.cookieDomain,
		Expires:  pair.AccessExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refresh,
		Value:    pair.RefreshToken,
		Path:     refreshPath(channel),
		Domain:   a.cookieDomain,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearPairCookies(w http.ResponseWriter, channel sessiondomain.Channel) {
	access, refresh := cookieNames(channel)
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{
		Name: access, Value: "", Path: "/", Domain: a.cookieDomain,
		Expires: expired, MaxAge: -1, HttpOnly: true, Secure: a.cookieSecure, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: refresh, Value: "", Path: refreshPath(channel), Domain: a.cookieDomain,
		Expires: expired, MaxAge: -1, HttpOnly: true, Secure: a.cookieSecure, SameSite: http.SameSiteLaxMode,
	})
}

// tokenFromRequest pulls the named cookie, falling back to a bearer header
// for non-browser clients.
func tokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
