// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator gates requests with a single shared API key, hashed at
// rest the way pkg/web/auth hashes account passwords, but kept in
// cleartext in memory too so it can be embedded back into generated
// playlist URLs.
type Authenticator struct {
	key  string
	hash []byte
}

const hashCost = 10

// GenerateAPIKey returns a random 32-byte hex-encoded key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("could not generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAuthenticator hashes key for verification.
func NewAuthenticator(key string) (*Authenticator, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), hashCost)
	if err != nil {
		return nil, fmt.Errorf("could not hash api key: %w", err)
	}
	return &Authenticator{key: key, hash: hash}, nil
}

// Key returns the cleartext key, for embedding into generated URLs.
func (a *Authenticator) Key() string {
	return a.key
}

// Valid reports whether candidate matches the configured key.
func (a *Authenticator) Valid(candidate string) bool {
	return bcrypt.CompareHashAndPassword(a.hash, []byte(candidate)) == nil
}

// Gate wraps next, rejecting requests whose "ApiKey" query parameter
// does not match.
func (a *Authenticator) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Valid(r.URL.Query().Get("ApiKey")) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
