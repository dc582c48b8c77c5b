package jwt_utils

import (
	"errors"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"

	"github.com/golang-jwt/jwt"
)

// Install state tokens bind the OAuth callback to the organisation that
// started the install flow.  The token travels through the vendor's consent
// screen as the OAuth state parameter.

type installStateClaims struct {
	*jwt.StandardClaims
	OrganisationID string `json:"organisation_id"`
	Vendor         string `json:"vendor"`
}

func CreateInstallStateToken(signingKey string, orgID domain.OrganisationID, vendor domain.Vendor, expiry time.Duration) (string, error) {
	t := jwt.New(jwt.GetSigningMethod("HS256"))
	t.Claims = &installStateClaims{
		&jwt.StandardClaims{
			ExpiresAt: time.Now().Add(expiry).UTC().Unix(),
		},
		string(orgID),
		string(vendor),
	}
	return t.SignedString([]byte(signingKey))
}

func ParseInstallStateToken(signingKey string, tokenString string) (domain.OrganisationID, domain.Vendor, error) {

	claims := &installStateClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected install state token signing method")
		}
		return []byte(signingKey), nil
	})
	if err != nil {
		return "", "", err
	}

	if !token.Valid || claims.OrganisationID == "" || claims.Vendor == "" {
		return "", "", errors.New("invalid install state token")
	}

	return domain.OrganisationID(claims.OrganisationID), domain.Vendor(claims.Vendor), nil
}
