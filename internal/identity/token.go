package identity

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/reviewlab/internal/model"
)

// cookieValuePrefix はbase64エンコードしたセッション値の接頭辞。
const cookieValuePrefix = "base64-"

// userPayload はGoTrueのユーザーオブジェクトのうち保持する項目。
type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// sessionPayload はトークンエンドポイントの応答、および保存形式。
type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	User         *userPayload `json:"user,omitempty"`
}

// accessClaims はアクセストークン（JWT）のクレーム。
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var errInvalidAccessToken = errors.New("invalid access token")

// parseAccessToken はアクセストークンのクレームを取り出す。
// secretが空の場合は署名を検証しない。期限切れはエラーにしない（リフレッシュ判定に使うため）。
func parseAccessToken(token, secret string) (*accessClaims, error) {
	claims := &accessClaims{}

	if secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidAccessToken, err)
		}
		return claims, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidAccessToken, err)
	}
	return claims, nil
}

// toSession はペイロードをドメインのSessionに変換する。
// expires_atが無い場合はexpires_in、次にJWTのexpから補う。
func (p *sessionPayload) toSession(now time.Time, claims *accessClaims) *model.Session {
	s := &model.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
	}

	switch {
	case p.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	case p.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(p.ExpiresIn) * time.Second)
	case claims != nil && claims.ExpiresAt != nil:
		s.ExpiresAt = claims.ExpiresAt.Time
	}

	switch {
	case p.User != nil && p.User.ID != "":
		s.User = &model.Identity{ID: p.User.ID, Email: p.User.Email}
	case claims != nil && claims.Subject != "":
		s.User = &model.Identity{ID: claims.Subject, Email: claims.Email}
	}

	return s
}

// fromSession は保存用のペイロードを組み立てる。
func fromSession(s *model.Session) *sessionPayload {
	p := &sessionPayload{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
	}
	if !s.ExpiresAt.IsZero() {
		p.ExpiresAt = s.ExpiresAt.Unix()
	}
	if s.User != nil {
		p.User = &userPayload{ID: s.User.ID, Email: s.User.Email}
	}
	return p
}

// EncodeSession はセッションをCookie値（base64url JSON）に変換する。
// 保存形式はクライアントがCookieへ書き込む値と同一。
func EncodeSession(s *model.Session) (string, error) {
	raw, err := json.Marshal(fromSession(s))
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return cookieValuePrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeSession はCookie値をペイロードに戻す。接頭辞が無い値は生JSONとして扱う。
func decodeSession(value string) (*sessionPayload, error) {
	raw := []byte(value)
	if strings.HasPrefix(value, cookieValuePrefix) {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(value, cookieValuePrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode session cookie: %w", err)
		}
		raw = decoded
	}

	var p sessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	if p.AccessToken == "" {
		return nil, errors.New("session cookie has no access token")
	}
	return &p, nil
}
