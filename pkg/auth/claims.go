package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prasit-dev/slipgate-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	OperatorID uuid.UUID
	Name       string
	Role       enums.MemberRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT presented by console operators.
type AccessTokenClaims struct {
	OperatorID uuid.UUID        `json:"operator_id"`
	Name       string           `json:"name,omitempty"`
	Role       enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
