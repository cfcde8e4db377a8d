package server

import (
	"context"
	"net/http"
	"strings"

	"QueueFM/core/auth"
	"QueueFM/logger"
)

type contextKey int

const claimsKey contextKey = iota

// TokenRequest 申请开发令牌
type TokenRequest struct {
	ListenerID string `json:"listenerId" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=64"`
}

// TokenResponse 令牌响应
type TokenResponse struct {
	Token      string `json:"token"`
	ListenerID string `json:"listenerId"`
	Name       string `json:"name"`
}

// TokenHandler 为听众签发令牌，没有账号体系，只用于开发和测试
func (h *APIHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.issuer.GenerateToken(req.ListenerID, req.Name)
	if err != nil {
		logger.Error("[Auth] 签发令牌失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	logger.Info("[Auth] 签发令牌", logger.String("listener", req.ListenerID))
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, ListenerID: req.ListenerID, Name: req.Name})
}

// tokenFromRequest 优先读取 Authorization 头，WebSocket 握手时从 token 查询参数读取
func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware 校验令牌并把听众身份放进 context
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization required")
			return
		}

		claims, err := h.issuer.ParseToken(token)
		if err != nil {
			logger.Debug("[Auth] 令牌无效", logger.String("path", r.URL.Path), logger.ErrorField(err))
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// listenerFrom 取出 AuthMiddleware 放入的听众身份
func listenerFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}
