package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type auditEventView struct {
	Action        string    `json:"action"`
	Channel       string    `json:"channel"`
	OriginAddress string    `json:"origin_address,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// handleAudit returns the auth audit trail for one account, newest first.
// Admin channel only; the route table never mounts it under /v1/auth.
func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	limit := queryInt32(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt32(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	if a.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []auditEventView{}})
		return
	}
	events, err := a.audit.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		a.log.Error("listing audit trail", zap.Error(err), zap.String("account_id", accountID))
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, auditEventView{
			Action:        e.Action,
			Channel:       e.Channel,
			OriginAddress: e.OriginAddress,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func queryInt32(r *http.Request, key string, def int32) int32 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}
