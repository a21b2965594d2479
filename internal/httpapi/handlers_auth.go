package httpapi

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"storefront-auth/internal/auth"
	sessiondomain "storefront-auth/internal/session/domain"
)

// tokenDeliveryBody is the opt-in for non-browser clients that cannot use
// cookies. Browser callers never set it, so their tokens stay in HttpOnly
// cookies and out of script reach.
const tokenDeliveryBody = "body"

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DeviceID       string `json:"device_id,omitempty"`
	DeviceMetadata string `json:"device_metadata,omitempty"`
	TokenDelivery  string `json:"token_delivery,omitempty"`
}

type accountView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

type pairResponse struct {
	Account          accountView `json:"account"`
	DeviceID         string      `json:"device_id"`
	AccessToken      string      `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time   `json:"access_expires_at"`
	RefreshToken     string      `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
}

func newPairResponse(acct accountView, deviceID string, pair auth.TokenPair, withTokens bool) pairResponse {
	res := pairResponse{
		Account:          acct,
		DeviceID:         deviceID,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
	if withTokens {
		res.AccessToken = pair.AccessToken
		res.RefreshToken = pair.RefreshToken
	}
	return res
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request, channel sessiondomain.Channel) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := a.auth.Login(r.Context(), channel, req.Email, req.Password, auth.Device{
		ID:              req.DeviceID,
		Metadata:        req.DeviceMetadata,
		OriginAddress:   clientIP(r),
		ClientSignature: r.UserAgent(),
	})
	if err != nil {
		a.writeAuthError(w, err)
		return
	}
	a.setPairCookies(w, channel, res.Pair)
	writeJSON(w, http.StatusOK, newPairResponse(accountView{
		ID:          res.Account.ID,
		Email:       res.Account.Email,
		Role:        string(res.Account.Role),
		DisplayName: res.Account.DisplayName,
	}, res.Session.DeviceID, res.Pair, req.TokenDelivery == tokenDeliveryBody))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request, channel sessiondomain.Channel) {
	var req refreshRequest
	// Body is optional for cookie clients.
	_ = decodeJSON(w, r, &req)

	// A refresh token arriving outside the cookie marks a non-cookie client;
	// only those get the rotated pair echoed in the body.
	_, refreshCookie := cookieNames(channel)
	token := req.RefreshToken
	withTokens := token != ""
	if token == "" {
		if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
			token = c.Value
		} else if b := bearerToken(r); b != "" {
			token = b
			withTokens = true
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	res, err := a.auth.Refresh(r.Context(), channel, token, req.DeviceID)
	if err != nil {
		a.clearPairCookies(w, channel)
		a.writeAuthError(w, err)
		return
	}
	a.setPairCookies(w, channel, res.Pair)
	writeJSON(w, http.StatusOK, newPairResponse(accountView{
		ID:          res.Account.ID,
		Email:       res.Account.Email,
		Role:        string(res.Account.Role),
		DisplayName: res.Account.DisplayName,
	}, res.Session.DeviceID, res.Pair, withTokens))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request, channel sessiondomain.Channel) {
	accessCookie, _ := cookieNames(channel)
	token := tokenFromRequest(r, accessCookie)
	// Logout never fails for token reasons; cookies are cleared regardless.
	if token != "" {
		if err := a.auth.Logout(r.Context(), channel, token); err != nil {
			a.clearPairCookies(w, channel)
			a.writeAuthError(w, err)
			return
		}
	}
	a.clearPairCookies(w, channel)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request, channel sessiondomain.Channel) {
	accessCookie, refreshCookie := cookieNames(channel)
	token := tokenFromRequest(r, accessCookie)
	if token == "" {
		token = tokenFromRequest(r, refreshCookie)
	}
	if token != "" {
		if err := a.auth.LogoutAllDevices(r.Context(), channel, token); err != nil {
			a.clearPairCookies(w, channel)
			a.writeAuthError(w, err)
			return
		}
	}
	a.clearPairCookies(w, channel)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out everywhere"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	view := accountView{ID: id.AccountID, Email: id.Email, Role: id.Role}
	if a.accounts != nil {
		if acct, err := a.accounts.GetByID(r.Context(), id.AccountID); err == nil && acct != nil {
			view.Email = acct.Email
			view.DisplayName = acct.DisplayName
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":   view,
		"channel":   string(id.Channel),
		"device_id": id.DeviceID,
	})
}

type sessionView struct {
	DeviceID       string    `json:"device_id"`
	DeviceMetadata string    `json:"device_metadata,omitempty"`
	OriginAddress  string    `json:"origin_address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

// handleSessions lists the caller's active device sessions on its own
// channel. Anchors never leave the server; the caller's own row is marked
// with the current flag instead.
func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if a.sessions == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []sessionView{}})
		return
	}
	rows, err := a.sessions.ListActiveByAccount(r.Context(), id.AccountID, id.Channel)
	if err != nil {
		a.log.Error("listing sessions", zap.Error(err), zap.String("account_id", id.AccountID))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	views := make([]sessionView, 0, len(rows))
	for _, s := range rows {
		views = append(views, sessionView{
			DeviceID:       s.DeviceID,
			DeviceMetadata: s.DeviceMetadata,
			OriginAddress:  s.OriginAddress,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastActivityAt: s.LastActivityAt,
			Current:        s.Anchor == id.SessionAnchor,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}
