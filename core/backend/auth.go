package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/logger"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/store"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type accessResponse struct {
	Access string `json:"access"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

var errBadCredentials = apierr.Authentication("no active account found with the given credentials")

func (b *Backend) handleAuth() {
	b.handle("/api/token/", b.obtainTokenPair, http.MethodPost)
	b.handle("/api/token/refresh/", b.refreshToken, http.MethodPost)
	b.handle("/api/token-auth/", b.obtainToken, http.MethodPost)
	b.handle("/api/auth/", b.currentAuthorization, http.MethodGet)
	b.handle("/api/auth/login/", b.login, http.MethodPost)
	b.handle("/api/auth/logout/", b.logout, http.MethodPost)
}

// authenticate checks the credentials of the request body and stamps the login time
func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request) (*model.User, error) {
	doc, err := readObject(w, r)
	if err != nil {
		return nil, err
	}
	var c credentials
	if err := decodeDocument(b.validator, "credentials", doc, &c); err != nil {
		return nil, err
	}

	ctx := r.Context()
	user, err := store.GetUserByEmail(ctx, b.db, model.NormalizeEmail(c.Email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, internalError(r, err, 4250, "load user")
	}
	ok, err := access.CheckPassword(user.PasswordHash, c.Password)
	if err != nil {
		return nil, internalError(r, err, 4251, "check password")
	}
	if !ok || !user.IsActive {
		logger.FromContext(ctx).Infoln("failed login for", user.Email)
		return nil, errBadCredentials
	}
	if err := b.touchLastLogin(ctx, user); err != nil {
		return nil, internalError(r, err, 4252, "stamp last login")
	}
	return user, nil
}

func (b *Backend) touchLastLogin(ctx context.Context, user *model.User) error {
	now := model.Now()
	if err := store.TouchLastLogin(ctx, b.db, user.ID, now); err != nil {
		return err
	}
	user.LastLogin = &now
	return nil
}

func (b *Backend) obtainTokenPair(w http.ResponseWriter, r *http.Request) error {
	user, err := b.authenticate(w, r)
	if err != nil {
		return err
	}
	pair, err := b.tokens.IssuePair(authorizationOf(user))
	if err != nil {
		return internalError(r, err, 4253, "issue tokens")
	}
	return writeJSON(w, http.StatusOK, pair)
}

func (b *Backend) obtainToken(w http.ResponseWriter, r *http.Request) error {
	user, err := b.authenticate(w, r)
	if err != nil {
		return err
	}
	token, err := b.tokens.Issue(authorizationOf(user))
	if err != nil {
		return internalError(r, err, 4254, "issue token")
	}
	return writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// refreshToken issues a new access token for a refresh token. Role and activity are taken
// from the account, not from the refresh token.
func (b *Backend) refreshToken(w http.ResponseWriter, r *http.Request) error {
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	var request refreshRequest
	if err := decodeDocument(b.validator, "token-refresh", doc, &request); err != nil {
		return err
	}
	claims, err := b.tokens.Verify(request.Refresh, access.TokenRefresh)
	if err != nil {
		return apierr.Authentication("token is invalid or expired")
	}
	auth, err := b.lookupAccount(r.Context(), claims.UserID())
	if err != nil {
		return internalError(r, err, 4255, "account lookup")
	}
	if auth == nil {
		return apierr.Authentication("account not found or inactive")
	}
	token, err := b.tokens.Issue(auth)
	if err != nil {
		return internalError(r, err, 4256, "issue token")
	}
	return writeJSON(w, http.StatusOK, accessResponse{Access: token})
}

func (b *Backend) currentAuthorization(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, auth)
}

// login sets the session cookie. The cookie carries an access token and expires with it.
func (b *Backend) login(w http.ResponseWriter, r *http.Request) error {
	user, err := b.authenticate(w, r)
	if err != nil {
		return err
	}
	auth := authorizationOf(user)
	token, err := b.tokens.Issue(auth)
	if err != nil {
		return internalError(r, err, 4257, "issue token")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     b.config.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(b.tokens.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return writeJSON(w, http.StatusOK, auth)
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     b.config.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return writeJSON(w, http.StatusOK, detailResponse{Detail: "logged out"})
}
