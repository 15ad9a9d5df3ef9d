// Package credential issues and validates the single-use secrets that link
// a portal click-through to a RADIUS Access-Request.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/nashmick001/mikrotik-portal/pkg/datastore"
)

const (
	// TTL bounds every issued credential.
	TTL = 60 * time.Second
	// secretBytes of entropy, rendered as 32 hex characters.
	secretBytes = 16
	keyPrefix   = "auth:"
)

// Credential is the username/password pair handed to the portal tier.
type Credential struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

// Adapter stores credentials in the ephemeral datastore.
type Adapter struct {
	store datastore.Datastore
	log   zerolog.Logger
	// Rand is the entropy source; crypto/rand when nil.
	Rand io.Reader
}

// NewAdapter creates a credential adapter
func NewAdapter(store datastore.Datastore, log zerolog.Logger) *Adapter {
	return &Adapter{
		store: store,
		log:   log.With().Str("component", "credential").Logger(),
	}
}

func key(identity string) string {
	return keyPrefix + identity
}

// Issue generates a fresh secret for identity, replacing any outstanding one.
func (a *Adapter) Issue(ctx context.Context, identity string) (Credential, error) {
	if identity == "" {
		return Credential{}, fmt.Errorf("issue credential: empty identity")
	}

	src := a.Rand
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(src, buf); err != nil {
		return Credential{}, fmt.Errorf("issue credential: generate secret: %w", err)
	}
	cred := Credential{Identity: identity, Secret: hex.EncodeToString(buf)}

	if err := a.store.SetValue(ctx, key(identity), cred.Secret, TTL); err != nil {
		return Credential{}, fmt.Errorf("issue credential for %s: %w", identity, err)
	}

	a.log.Debug().Str("identity", identity).Dur("ttl", TTL).Msg("credential issued")
	return cred, nil
}

// Validate reports whether secret is the outstanding credential for
// identity, consuming it on success. A wrong secret leaves the credential in
// place for a retry within its TTL. Store failures are returned with false so
// callers fail closed.
func (a *Adapter) Validate(ctx context.Context, identity, secret string) (bool, error) {
	result, err := a.store.CompareAndDelete(ctx, key(identity), secret)
	if err != nil {
		return false, fmt.Errorf("validate credential for %s: %w", identity, err)
	}

	switch result {
	case datastore.Consumed:
		a.log.Debug().Str("identity", identity).Msg("credential consumed")
		return true, nil
	case datastore.Mismatch:
		a.log.Debug().Str("identity", identity).Msg("credential mismatch")
	default:
		a.log.Debug().Str("identity", identity).Msg("no outstanding credential")
	}
	return false, nil
}
