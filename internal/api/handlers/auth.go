package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/api/httpx"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/auth"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/services"
)

type AuthHandler struct {
	TM    *auth.TokenManager
	Users *services.UserService
}

func NewAuthHandler(tm *auth.TokenManager, us *services.UserService) *AuthHandler {
	return &AuthHandler{TM: tm, Users: us}
}

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
		return
	}
	u, err := h.Users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, u)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
		return
	}
	u, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
		return
	}
	access, refresh, exp, err := h.TM.GeneratePair(u.ID, u.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Seconds()),
	})
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
		return
	}
	claims, isRefresh, err := h.TM.ParseAny(req.RefreshToken)
	if err != nil || !isRefresh {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token", nil)
		return
	}
	access, refresh, exp, err := h.TM.GeneratePair(claims.UserID, claims.Role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Seconds()),
	})
}
