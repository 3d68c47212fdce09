package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"garminsync/internal/config"

	"github.com/input-output-hk/catalyst-forge-libs/executor"
	"go.uber.org/zap"
)

// HelperRunner executes the external browser-login helper
type HelperRunner interface {
	Run(ctx context.Context, command []string, input string) (string, error)
}

// helperRequest is what the helper reads on stdin
type helperRequest struct {
	SignInURL string `json:"sign_in_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Locale    string `json:"locale,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Headless  bool   `json:"headless"`
}

// helperResponse is what the helper writes on stdout
type helperResponse struct {
	CookieHeader string `json:"cookie_header"`
	CSRFToken    string `json:"csrf_token"`
}

func (p *Provider) fromHelper(ctx context.Context, side string, region config.Region) (*Session, error) {
	ac := region.Auth
	if len(ac.HelperCommand) == 0 {
		return nil, &Error{Side: side, Err: errors.New("auth type helper_login requires helper_command")}
	}
	if ac.Username == "" || ac.Password == "" {
		return nil, &Error{Side: side, Err: errors.New("auth type helper_login requires username and password")}
	}

	input, err := json.Marshal(helperRequest{
		SignInURL: signInURL(ac),
		Username:  ac.Username,
		Password:  ac.Password,
		Locale:    ac.Locale,
		UserAgent: ac.UserAgent,
		Headless:  ac.Headless,
	})
	if err != nil {
		return nil, &Error{Side: side, Err: err}
	}

	timeout := time.Duration(ac.HelperTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.logger.Info("running login helper",
		zap.String("side", side),
		zap.String("helper", ac.HelperCommand[0]),
	)

	out, err := p.runner.Run(runCtx, ac.HelperCommand, string(input))
	if err != nil {
		return nil, &Error{Side: side, Err: fmt.Errorf("login helper: %w", err)}
	}

	// Helpers may print progress lines before the result, so fall back to
	// the last line when the whole output is not valid JSON.
	payload := strings.TrimSpace(out)
	if !json.Valid([]byte(payload)) {
		if i := strings.LastIndexByte(payload, '\n'); i >= 0 {
			payload = strings.TrimSpace(payload[i+1:])
		}
	}

	var resp helperResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, &Error{Side: side, Err: fmt.Errorf("login helper output is not valid JSON: %w", err)}
	}
	if strings.TrimSpace(resp.CookieHeader) == "" {
		return nil, &Error{Side: side, Err: errors.New("login helper returned no cookies")}
	}

	p.logger.Info("login helper finished", zap.String("side", side))
	return &Session{
		Side:         side,
		CookieHeader: resp.CookieHeader,
		CSRFToken:    resp.CSRFToken,
		UserAgent:    ac.UserAgent,
	}, nil
}

func signInURL(ac config.Auth) string {
	locale := ac.Locale
	if locale == "" {
		locale = "en-US"
	}

	u := fmt.Sprintf("%s/portal/sso/%s/sign-in", strings.TrimRight(ac.SSOBaseURL, "/"), locale)

	params := url.Values{}
	if ac.ClientID != "" {
		params.Set("clientId", ac.ClientID)
	}
	if ac.ServiceURL != "" {
		params.Set("service", ac.ServiceURL)
	}
	if enc := params.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// execRunner runs the helper as a local subprocess with captured output
type execRunner struct{}

func (execRunner) Run(ctx context.Context, command []string, input string) (string, error) {
	cmd := executor.New(command[0], command[1:]...)
	res, err := cmd.ExecuteWithInput(ctx, input, executor.SilentMode())
	if err != nil {
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(res.Stderr))
		}
		return "", err
	}
	return res.Stdout, nil
}
