package imaging

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/radiweb/pacs-gateway/internal/platform/auth"
	"github.com/radiweb/pacs-gateway/internal/platform/metrics"
	"github.com/radiweb/pacs-gateway/internal/platform/tokenstore"
)

const viewerPath = "/stone-webviewer/index.html"

// ViewerLinks issues tokenized web viewer URLs and records each token in the
// store so it can be validated and revoked later.
type ViewerLinks struct {
	baseURL string
	ttl     time.Duration
	issuer  *auth.ViewerTokenIssuer
	store   tokenstore.Store
	metrics *metrics.Metrics
}

func NewViewerLinks(baseURL string, ttl time.Duration, issuer *auth.ViewerTokenIssuer, store tokenstore.Store, m *metrics.Metrics) *ViewerLinks {
	return &ViewerLinks{baseURL: baseURL, ttl: ttl, issuer: issuer, store: store, metrics: m}
}

// ViewerURL builds the viewer URL for studyID carrying token.
func ViewerURL(baseURL, studyID, token string) string {
	q := url.Values{}
	q.Set("study", studyID)
	q.Set("token", token)
	return baseURL + viewerPath + "?" + q.Encode()
}

func (v *ViewerLinks) Generate(ctx context.Context, studyID string) (*ViewerLink, error) {
	vt, err := v.issuer.Issue(studyID, v.ttl)
	if err != nil {
		return nil, err
	}

	err = v.store.Save(ctx, tokenstore.Record{
		ID:        vt.ID,
		StudyID:   vt.StudyID,
		IssuedAt:  vt.IssuedAt,
		ExpiresAt: vt.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("store viewer token: %w", err)
	}
	v.metrics.ViewerTokenIssued()

	return &ViewerLink{
		StudyID:   studyID,
		ViewerURL: ViewerURL(v.baseURL, studyID, vt.Token),
		TokenID:   vt.ID,
		ExpiresAt: vt.ExpiresAt,
	}, nil
}

// TokenStatus is the result of a successful viewer token validation.
type TokenStatus struct {
	Valid     bool      `json:"valid"`
	StudyID   string    `json:"study_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks the signature and expiry of token and that it has not been
// revoked.
func (v *ViewerLinks) Validate(ctx context.Context, token string) (*TokenStatus, error) {
	claims, err := v.issuer.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidViewerToken, err)
	}
	rec, err := v.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	return &TokenStatus{Valid: true, StudyID: rec.StudyID, ExpiresAt: rec.ExpiresAt}, nil
}

func (v *ViewerLinks) Revoke(ctx context.Context, tokenID string) error {
	return v.store.Delete(ctx, tokenID)
}

func (v *ViewerLinks) RevokeStudy(ctx context.Context, studyID string) (int, error) {
	return v.store.RevokeStudy(ctx, studyID)
}
