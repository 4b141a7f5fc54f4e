package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AccessTypeViewer = "viewer"

	DefaultViewerTokenTTL = 24 * time.Hour
)

var ErrNotViewerToken = errors.New("token is not a viewer token")

// ViewerClaims grant read access to a single study in the web viewer.
type ViewerClaims struct {
	jwt.RegisteredClaims
	StudyID     string `json:"study_id"`
	AccessType  string `json:"access_type"`
	GeneratedAt string `json:"generated_at"`
}

// ViewerToken is an issued viewer token plus the metadata the store keeps.
type ViewerToken struct {
	Token     string    `json:"-"`
	ID        string    `json:"jti"`
	StudyID   string    `json:"study_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ViewerTokenIssuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewViewerTokenIssuer(key []byte, issuer string) *ViewerTokenIssuer {
	return &ViewerTokenIssuer{key: key, issuer: issuer, now: time.Now}
}

// Issue signs a viewer token for studyID valid for ttl. A non-positive ttl
// falls back to DefaultViewerTokenTTL.
func (i *ViewerTokenIssuer) Issue(studyID string, ttl time.Duration) (*ViewerToken, error) {
	if studyID == "" {
		return nil, fmt.Errorf("study id is required")
	}
	if ttl <= 0 {
		ttl = DefaultViewerTokenTTL
	}

	now := i.now().UTC().Truncate(time.Second)
	vt := &ViewerToken{
		ID:        uuid.New().String(),
		StudyID:   studyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	claims := ViewerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        vt.ID,
			Issuer:    i.issuer,
			Subject:   studyID,
			IssuedAt:  jwt.NewNumericDate(vt.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(vt.ExpiresAt),
		},
		StudyID:     studyID,
		AccessType:  AccessTypeViewer,
		GeneratedAt: now.Format(time.RFC3339),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign viewer token: %w", err)
	}
	vt.Token = signed
	return vt, nil
}

// Parse verifies signature and expiry and that the token is a viewer token.
func (i *ViewerTokenIssuer) Parse(tokenStr string) (*ViewerClaims, error) {
	claims := &ViewerClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse viewer token: %w", err)
	}
	if claims.AccessType != AccessTypeViewer || claims.StudyID == "" {
		return nil, ErrNotViewerToken
	}
	return claims, nil
}
