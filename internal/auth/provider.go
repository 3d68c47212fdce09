package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"garminsync/internal/config"

	"go.uber.org/zap"
)

// Provider acquires sessions according to each side's auth strategy
type Provider struct {
	runner HelperRunner
	http   *http.Client
	logger *zap.Logger
}

// NewProvider creates a provider that runs login helpers as local subprocesses
func NewProvider(logger *zap.Logger) *Provider {
	return &Provider{
		runner: execRunner{},
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Acquire establishes a session for one side. It is invoked at most once per
// side per run and does not retry.
func (p *Provider) Acquire(ctx context.Context, side string, region config.Region) (*Session, error) {
	switch region.Auth.Type {
	case config.AuthSessionCookie, "":
		return p.fromCookie(ctx, side, region)
	case config.AuthHelperLogin:
		return p.fromHelper(ctx, side, region)
	default:
		return nil, &Error{Side: side, Err: fmt.Errorf("unknown auth type %q", region.Auth.Type)}
	}
}

func (p *Provider) fromCookie(ctx context.Context, side string, region config.Region) (*Session, error) {
	ac := region.Auth
	if strings.TrimSpace(ac.Cookie) == "" {
		return nil, &Error{Side: side, Err: errors.New("auth type session_cookie requires a cookie")}
	}

	sess := &Session{
		Side:         side,
		CookieHeader: ac.Cookie,
		CSRFToken:    ac.CSRFToken,
		UserAgent:    ac.UserAgent,
	}

	if ac.ProbePath != "" {
		if err := p.probe(ctx, region.BaseURL, ac.ProbePath, sess); err != nil {
			return nil, &Error{Side: side, Err: err}
		}
	}

	p.logger.Info("using configured session cookie", zap.String("side", side))
	return sess, nil
}

// probe makes a cheap authenticated request so a dead cookie fails the run
// before any listing or upload work starts.
func (p *Provider) probe(ctx context.Context, baseURL, path string, sess *Session) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cookie", sess.CookieHeader)
	if sess.UserAgent != "" {
		req.Header.Set("User-Agent", sess.UserAgent)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("session probe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("session probe rejected with status %d, cookie looks expired", resp.StatusCode)
	}
	return nil
}
