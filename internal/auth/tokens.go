package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidCredential = errors.New("invalid callback credential")
	ErrOutOfScope        = errors.New("credential not valid for this resource")
)

const (
	scopeCallback = "callback"
	scopeObject   = "object"
)

type callbackClaims struct {
	jwt.RegisteredClaims
	Scope     string `json:"scope"`
	DatasetId string `json:"dataset_id,omitempty"`
	RunId     string `json:"run_id,omitempty"`
	Method    string `json:"method,omitempty"`
}

// Grant is what a verified callback credential allows.
type Grant struct {
	DatasetId uuid.UUID
	RunId     uuid.UUID
	Wildcard  bool
}

func (g Grant) AllowsDataset(datasetId uuid.UUID) bool {
	return g.Wildcard || g.DatasetId == datasetId
}

// AllowsRun is only true for credentials minted for that exact run.
func (g Grant) AllowsRun(datasetId, runId uuid.UUID) bool {
	return g.Wildcard || (g.DatasetId == datasetId && g.RunId != uuid.Nil && g.RunId == runId)
}

// Authority mints and verifies the short lived credentials that workers present
// on callbacks. Tokens are HS256 JWTs keyed by the webhook secret.
type Authority struct {
	secret       []byte
	ttl          time.Duration
	acceptStatic bool
	now          func() time.Time
}

func NewAuthority(secret string, ttl time.Duration, acceptStatic bool) *Authority {
	return &Authority{secret: []byte(secret), ttl: ttl, acceptStatic: acceptStatic, now: time.Now}
}

func (a *Authority) sign(claims callbackClaims, ttl time.Duration) (string, time.Time, error) {
	if len(a.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("webhook secret is not configured")
	}
	now := a.now()
	expires := now.Add(ttl)
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(expires)
	claims.RegisteredClaims.ID = uuid.NewString()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error signing callback token: %w", err)
	}
	return token, expires, nil
}

// IssueRunToken mints a credential for the callbacks of one preprocessing run.
func (a *Authority) IssueRunToken(datasetId, runId uuid.UUID) (string, time.Time, error) {
	return a.sign(callbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: runId.String()},
		Scope:            scopeCallback,
		DatasetId:        datasetId.String(),
		RunId:            runId.String(),
	}, a.ttl)
}

// IssueDatasetToken mints a credential for dataset level callbacks such as
// saving trained models or resolving download urls.
func (a *Authority) IssueDatasetToken(datasetId uuid.UUID) (string, time.Time, error) {
	return a.sign(callbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: datasetId.String()},
		Scope:            scopeCallback,
		DatasetId:        datasetId.String(),
	}, a.ttl)
}

func (a *Authority) parse(raw, scope string) (*callbackClaims, error) {
	claims := &callbackClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid || claims.Scope != scope {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// Verify checks the value of the x-webhook-secret header.
func (a *Authority) Verify(credential string) (Grant, error) {
	if credential == "" || len(a.secret) == 0 {
		return Grant{}, ErrInvalidCredential
	}

	if a.acceptStatic && subtle.ConstantTimeCompare([]byte(credential), a.secret) == 1 {
		return Grant{Wildcard: true}, nil
	}

	claims, err := a.parse(credential, scopeCallback)
	if err != nil {
		return Grant{}, err
	}

	datasetId, err := uuid.Parse(claims.DatasetId)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: bad dataset id", ErrInvalidCredential)
	}

	grant := Grant{DatasetId: datasetId}
	if claims.RunId != "" {
		if grant.RunId, err = uuid.Parse(claims.RunId); err != nil {
			return Grant{}, fmt.Errorf("%w: bad run id", ErrInvalidCredential)
		}
	}

	return grant, nil
}

// SignObject implements storage.ObjectSigner for the local object routes.
func (a *Authority) SignObject(storageId, method string, ttl time.Duration) (string, error) {
	token, _, err := a.sign(callbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: storageId},
		Scope:            scopeObject,
		Method:           method,
	}, ttl)
	return token, err
}

func (a *Authority) VerifyObject(token, storageId, method string) error {
	claims, err := a.parse(token, scopeObject)
	if err != nil {
		return err
	}
	if claims.Subject != storageId || claims.Method != method {
		return ErrOutOfScope
	}
	return nil
}
