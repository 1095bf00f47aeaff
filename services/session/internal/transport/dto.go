package transport

type CreateSessionRequest struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshAccessRequest struct {
	AccessToken string `json:"access_token"`
}

type DeactivateRequest struct {
	AccessToken string `json:"access_token"`
}

type TouchRequest struct {
	UserID uint `json:"user_id"`
}

type TokenPairResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
}

type ActiveResponse struct {
	Active bool `json:"active"`
}
