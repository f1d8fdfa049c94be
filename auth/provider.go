/*
Package auth implements the authentication collaborator.

KEY CONCEPTS:
  - Provider: Accounts (bcrypt hashes), signed session tokens (HS256 JWT),
              and a Registry of live sessions
  - Client:   One isolated auth context (identity.Auth) over a Provider

ISOLATION:
  Every Client keeps its own session slot. A client built with
  PersistSession=false never keeps what SignIn/SignUp return and never
  emits change events, so staff provisioning through it cannot touch the
  session of the HR user doing the provisioning.

SEE ALSO:
  - identity/identity.go: The Auth contract
  - registry.go: Memory and Redis session registries
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/identity"
	"github.com/hospiverse/clinic-engine/pkg/logging"
)

const (
	MinPasswordLength = 6
	DefaultSessionTTL = 12 * time.Hour
)

var validate = validator.New()

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionRevoked     = errors.New("session revoked")
)

// Claims are the session token claims.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type ProviderOptions struct {
	Secret   string
	TTL      time.Duration
	Registry Registry
	Logger   *logging.Logger
	Clock    generic.Clock
}

type Provider struct {
	store    generic.TxStore
	secret   []byte
	ttl      time.Duration
	registry Registry
	log      *logging.Logger
	clock    generic.Clock
}

func NewProvider(store generic.TxStore, opts ProviderOptions) *Provider {
	log := logging.OrDefault(opts.Logger)
	secret := opts.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn("No JWT secret configured, using an ephemeral one")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	return &Provider{
		store:    store,
		secret:   []byte(secret),
		ttl:      ttl,
		registry: registry,
		log:      log,
		clock:    opts.Clock,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// Register creates an account and its profile in one transaction. Metadata
// keys: full_name, role, department, status.
func (p *Provider) Register(ctx context.Context, email, password string, metadata map[string]string) (string, error) {
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", generic.Invalid("email", "must be a valid address")
	}
	if len(password) < MinPasswordLength {
		return "", generic.Invalid("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	status, ok := identity.ParseStatus(metadata["status"])
	if !ok {
		return "", generic.Invalid("status", "unknown status")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	id := generic.NewID()
	now := p.clock.Now().UTC().Format(time.RFC3339)
	err = p.store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Insert(ctx, generic.CollectionAccounts, generic.Record{
			"id": id, "email": email, "password_hash": string(hash), "created_at": now,
		}); err != nil {
			return err
		}
		return identity.InsertProfile(ctx, tx, identity.Identity{
			ID:         id,
			Email:      email,
			FullName:   strings.TrimSpace(metadata["full_name"]),
			Role:       identity.ParseRole(metadata["role"]),
			Department: strings.TrimSpace(metadata["department"]),
			Status:     status,
		})
	})
	if err != nil {
		return "", err
	}
	p.log.WithFields(map[string]interface{}{"user_id": id, "role": metadata["role"]}).Info("Account registered")
	return id, nil
}

// Authenticate checks credentials and opens a session.
func (p *Provider) Authenticate(ctx context.Context, email, password string) (*identity.Session, error) {
	rows, err := p.store.Find(ctx, generic.Query{
		Collection: generic.CollectionAccounts,
		Where:      []generic.Predicate{generic.Eq("email", normalizeEmail(email))},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrInvalidCredentials
	}
	acct := rows[0]
	if err := bcrypt.CompareHashAndPassword([]byte(acct.String("password_hash")), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.issue(ctx, acct.ID(), acct.String("email"))
}

// =============================================================================
// SESSIONS
// =============================================================================

func (p *Provider) issue(ctx context.Context, userID, email string) (*identity.Session, error) {
	now := p.clock.Now()
	expires := now.Add(p.ttl)
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	if err := p.registry.Put(ctx, claims.ID, userID, p.ttl); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}
	return &identity.Session{AccessToken: token, UserID: userID, Email: email, ExpiresAt: expires}, nil
}

func (p *Provider) parse(token string, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append(opts, jwt.WithTimeFunc(p.clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrUnauthenticated, err)
	}
	return claims, nil
}

// Validate returns the session for a live token.
func (p *Provider) Validate(ctx context.Context, token string) (*identity.Session, error) {
	claims, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	active, err := p.registry.Active(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	if !active {
		return nil, fmt.Errorf("%w: %w", generic.ErrUnauthenticated, ErrSessionRevoked)
	}
	return &identity.Session{
		AccessToken: token,
		UserID:      claims.Subject,
		Email:       claims.Email,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Revoke ends the session behind token. Expired tokens are still revoked;
// tokens with a bad signature are ignored.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := p.parse(token, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil
	}
	return p.registry.Revoke(ctx, claims.ID)
}

// NewClient returns an isolated auth context.
func (p *Provider) NewClient(opts ClientOptions) *Client {
	return newClient(p, opts)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
