package auth

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrTokenExpired is returned for structurally valid onboarding tokens whose
// TTL has elapsed. Callers surface it as "link expired" rather than "forged".
var ErrTokenExpired = errors.New("token expired")

// OnboardingClaims is the payload of the single-use booking link handed to a
// student after a successful checkout. It ties the link to one enrollment so
// the booking page cannot be replayed for a different course or user.
type OnboardingClaims struct {
	UserID            int64  `json:"user_id"`
	CourseID          int64  `json:"course_id"`
	EnrollmentID      int64  `json:"enrollment_id"`
	CheckoutSessionID string `json:"checkout_session_id,omitempty"`
	Exp               int64  `json:"exp"`
	Iat               int64  `json:"iat"`
}

func SignOnboardingToken(claims OnboardingClaims, secret string) (string, error) {
	header := map[string]string{
		"alg": "HS256",
		"typ": "JWT",
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerEnc := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	unsigned := headerEnc + "." + payloadEnc
	signature := hmacSHA256(unsigned, secret)
	return unsigned + "." + signature, nil
}

func VerifyOnboardingToken(token, secret string) (*OnboardingClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(hmacSHA256(unsigned, secret))) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims OnboardingClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return &claims, ErrTokenExpired
	}
	return &claims, nil
}
