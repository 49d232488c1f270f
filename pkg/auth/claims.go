package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims the client cares about.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Role      string
	ProgramID string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Raw       map[string]any
}

// Expired reports whether the token has an expiry at or before now.
// Tokens without an exp claim never expire client-side.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ClaimsExtractor extracts values from JWT claims.
type ClaimsExtractor struct {
	// SubjectClaimPath is the dot-separated path to the user ID.
	SubjectClaimPath string

	// EmailClaimPath is the path to the email claim.
	EmailClaimPath string

	// NameClaimPath is the path to the display name claim.
	NameClaimPath string

	// RoleClaimPath is the path to the role. A string value is used as is;
	// for an array the first entry wins.
	RoleClaimPath string

	// ProgramClaimPath is the path to a default program ID, if the issuer
	// embeds one.
	ProgramClaimPath string
}

// DefaultClaimsExtractor returns an extractor for academy tokens.
func DefaultClaimsExtractor() *ClaimsExtractor {
	return &ClaimsExtractor{
		SubjectClaimPath: "sub",
		EmailClaimPath:   "email",
		NameClaimPath:    "name",
		RoleClaimPath:    "role",
		ProgramClaimPath: "program_id",
	}
}

// Extract builds Claims from a decoded claim set.
func (e *ClaimsExtractor) Extract(claims map[string]any) Claims {
	c := Claims{
		Subject:   e.getStringValue(claims, e.SubjectClaimPath),
		Email:     e.getStringValue(claims, e.EmailClaimPath),
		Name:      e.getStringValue(claims, e.NameClaimPath),
		ProgramID: e.getStringValue(claims, e.ProgramClaimPath),
		Raw:       claims,
	}

	if role := e.getStringValue(claims, e.RoleClaimPath); role != "" {
		c.Role = role
	} else if roles := e.getStringSlice(claims, e.RoleClaimPath); len(roles) > 0 {
		c.Role = roles[0]
	}

	mc := jwt.MapClaims(claims)
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c
}

// Inspect decodes an access token without verifying its signature. The
// server remains the authority; the client only reads expiry and identity.
func Inspect(token string) (Claims, error) {
	return DefaultClaimsExtractor().Inspect(token)
}

// Inspect decodes token without verifying its signature.
func (e *ClaimsExtractor) Inspect(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("decoding token: %w", err)
	}
	return e.Extract(mc), nil
}

// getStringValue gets a string value at a dot-separated path.
func (e *ClaimsExtractor) getStringValue(claims map[string]any, path string) string {
	if s, ok := e.getValue(claims, path).(string); ok {
		return s
	}
	return ""
}

// getStringSlice gets a string slice at a dot-separated path.
func (e *ClaimsExtractor) getStringSlice(claims map[string]any, path string) []string {
	value := e.getValue(claims, path)
	if arr, ok := value.([]any); ok {
		result := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	if arr, ok := value.([]string); ok {
		return arr
	}
	return nil
}

// getValue gets a value at a dot-separated path.
func (*ClaimsExtractor) getValue(claims map[string]any, path string) any {
	if path == "" {
		return nil
	}

	var current any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}
