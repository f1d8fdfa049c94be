package auth

import (
	"context"
	"sync"

	"github.com/hospiverse/clinic-engine/identity"
)

type ClientOptions struct {
	// StorageKey names the client's session slot in logs.
	StorageKey string
	// PersistSession keeps sessions returned by SignIn/SignUp and emits
	// change events. Provisioning clients leave it false.
	PersistSession bool
	// Token seeds the slot with an existing access token.
	Token string
}

// Client is one isolated auth context implementing identity.Auth and
// identity.LocalState.
type Client struct {
	provider *Provider
	opts     ClientOptions

	mu        sync.Mutex
	token     string
	listeners map[int]func(identity.AuthChange)
	nextID    int
}

var (
	_ identity.Auth       = (*Client)(nil)
	_ identity.LocalState = (*Client)(nil)
)

func newClient(p *Provider, opts ClientOptions) *Client {
	if opts.StorageKey == "" {
		opts.StorageKey = "clinic.auth.token"
	}
	return &Client{
		provider:  p,
		opts:      opts,
		token:     opts.Token,
		listeners: make(map[int]func(identity.AuthChange)),
	}
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	session, err := c.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.keep(session)
	return session, nil
}

// SignUp registers an account with metadata. Only a persisting client opens
// a session for it; otherwise the returned Session carries no token.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*identity.Session, error) {
	userID, err := c.provider.Register(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	if !c.opts.PersistSession {
		return &identity.Session{UserID: userID, Email: normalizeEmail(email)}, nil
	}
	session, err := c.provider.issue(ctx, userID, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	c.keep(session)
	return session, nil
}

// GetSession validates the slot's token. An empty slot is no session.
func (c *Client) GetSession(ctx context.Context) (*identity.Session, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, nil
	}
	return c.provider.Validate(ctx, token)
}

// SignOut revokes and forgets the slot's session.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()

	err := c.provider.Revoke(ctx, token)
	if token != "" && c.opts.PersistSession {
		c.notify(identity.AuthChange{Event: identity.EventSignedOut})
	}
	return err
}

// Clear forgets the slot's session without revoking it.
func (c *Client) Clear() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) OnAuthStateChange(fn func(identity.AuthChange)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Token returns the slot's current access token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) keep(session *identity.Session) {
	if !c.opts.PersistSession {
		return
	}
	c.mu.Lock()
	c.token = session.AccessToken
	c.mu.Unlock()
	c.provider.log.WithField("storage_key", c.opts.StorageKey).WithField("user_id", session.UserID).Debug("Session stored")
	c.notify(identity.AuthChange{Event: identity.EventSignedIn, Session: session})
}

func (c *Client) notify(change identity.AuthChange) {
	c.mu.Lock()
	fns := make([]func(identity.AuthChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}
