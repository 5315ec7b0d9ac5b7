// Package turnrest issues coturn-compatible TURN REST (ephemeral) credentials.
//
// See https://github.com/coturn/coturn/wiki/turnserver and
// https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
//
//	username   = <unix_expiry>:<username_prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// unix_expiry is the server's UTC clock plus the TTL.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

var (
	ErrEmptySessionID   = errors.New("turnrest: session id is required")
	ErrColonInSessionID = errors.New("turnrest: session id must not contain ':'")
)

type GeneratorConfig struct {
	SharedSecret   string `validate:"required"`
	TTLSeconds     int64  `validate:"gt=0"`
	UsernamePrefix string `validate:"required,excludes=:"`

	// Now and SessionIDSource default to time.Now and random UUIDs.
	Now             func() time.Time
	SessionIDSource func() (string, error)
}

type Generator struct {
	secret    []byte
	ttl       int64
	prefix    string
	now       func() time.Time
	sessionID func() (string, error)
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("turnrest: invalid config: %w", err)
	}
	g := &Generator{
		secret:    []byte(cfg.SharedSecret),
		ttl:       cfg.TTLSeconds,
		prefix:    cfg.UsernamePrefix,
		now:       cfg.Now,
		sessionID: cfg.SessionIDSource,
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.sessionID == nil {
		g.sessionID = func() (string, error) { return uuid.NewString(), nil }
	}
	return g, nil
}

// TTL is the lifetime of issued credentials.
func (g *Generator) TTL() time.Duration {
	return time.Duration(g.ttl) * time.Second
}

func (g *Generator) Generate(sessionID string) (Credentials, error) {
	switch {
	case sessionID == "":
		return Credentials{}, ErrEmptySessionID
	case strings.Contains(sessionID, ":"):
		return Credentials{}, ErrColonInSessionID
	}

	expiry := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + g.prefix + ":" + sessionID

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

// GenerateRandom issues credentials for a fresh session id.
func (g *Generator) GenerateRandom() (Credentials, error) {
	id, err := g.sessionID()
	if err != nil {
		return Credentials{}, fmt.Errorf("turnrest: session id: %w", err)
	}
	return g.Generate(id)
}
