// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authstub issues and verifies the bearer token behind
// Task.owning_user_id. The real transport and identity provider are out
// of scope (spec.md §1); this package gives the rest of the engine
// something concrete to authenticate against in tests and the
// cmd/ojoctl CLI.
package authstub

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any verification failure: expired,
// malformed, wrong signature, or wrong issuer.
var ErrInvalidToken = fmt.Errorf("authstub: invalid token")

// Claims identifies the calling user behind a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Issuer signs and verifies bearer tokens with a single HS256 secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	name   string
}

// NewIssuer builds an Issuer. ttl defaults to 24h when zero.
func NewIssuer(secret []byte, issuerName string, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl, name: issuerName}
}

// Login issues a bearer token for userID, the stub's entire "auth.login"
// contract surface.
func (i *Issuer) Login(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("authstub: signing token: %w", err)
	}
	return signed, nil
}

// Check verifies tokenString and returns the user id it was issued to,
// the "auth.check" contract surface every Task-mutating operation calls
// before trusting owning_user_id.
func (i *Issuer) Check(tokenString string) (userID string, err error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.name))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
