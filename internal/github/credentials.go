package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/eeekcct/github-poller/internal/config"
)

// ErrCredentialUnavailable is returned when no authentication mode produced a token.
var ErrCredentialUnavailable = errors.New("no GitHub credential available")

// assertionLifetime is the validity of the app JWT; GitHub rejects anything above 10 minutes.
const assertionLifetime = 600 * time.Second

// Credential is a bearer token for the GitHub API. PAT credentials have a zero ExpiresAt.
type Credential struct {
	Token     string
	ExpiresAt time.Time
	Mode      config.AuthMode
}

func (c *Credential) expiresWithin(now time.Time, margin time.Duration) bool {
	return !c.ExpiresAt.IsZero() && !now.Add(margin).Before(c.ExpiresAt)
}

// TokenExchanger trades a signed app assertion for an installation access token.
type TokenExchanger interface {
	ExchangeInstallationToken(ctx context.Context, installationID int64, assertion string) (string, time.Time, error)
}

type tokenStrategy interface {
	mode() config.AuthMode
	fetch(ctx context.Context) (*Credential, error)
}

// CredentialProvider hands out a currently valid GitHub token. Strategies are
// tried in order and the first that succeeds becomes the active mode.
type CredentialProvider struct {
	cfg       config.GitHubConfig
	clock     clock.PassiveClock
	exchanger TokenExchanger

	mu         sync.Mutex
	strategies []tokenStrategy
	current    *Credential
}

type ProviderOption func(*CredentialProvider)

func WithClock(c clock.PassiveClock) ProviderOption {
	return func(p *CredentialProvider) { p.clock = c }
}

func WithTokenExchanger(e TokenExchanger) ProviderOption {
	return func(p *CredentialProvider) { p.exchanger = e }
}

// NewCredentialProvider builds a provider without doing any I/O; call Init to
// obtain the first token.
func NewCredentialProvider(cfg config.GitHubConfig, timeout time.Duration, opts ...ProviderOption) *CredentialProvider {
	p := &CredentialProvider{
		cfg:   cfg,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.exchanger == nil {
		p.exchanger = &installationTokenExchanger{
			apiURL:     cfg.APIURL,
			httpClient: &http.Client{Timeout: timeout},
		}
	}

	pat := &patStrategy{token: cfg.Token}
	switch cfg.AuthMode {
	case config.AuthModePAT:
		p.strategies = []tokenStrategy{pat}
	default:
		p.strategies = []tokenStrategy{
			&appStrategy{
				appID:          cfg.AppID,
				installationID: cfg.InstallationID,
				privateKey:     cfg.PrivateKey,
				exchanger:      p.exchanger,
				clock:          p.clock,
			},
			pat,
		}
	}
	return p
}

// Init resolves the first credential. An error here means no mode works.
func (p *CredentialProvider) Init(ctx context.Context) error {
	_, err := p.Refresh(ctx)
	return err
}

// Credential returns the cached credential, re-resolving it first when it
// expires within the configured refresh margin.
func (p *CredentialProvider) Credential(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if p.current != nil && !p.current.expiresWithin(now, p.cfg.RefreshMargin) {
		return *p.current, nil
	}
	cred, err := p.resolveLocked(ctx)
	if err != nil && p.current != nil && now.Before(p.current.ExpiresAt) {
		logf.FromContext(ctx).Error(err, "Failed to refresh GitHub credential, using cached token until it expires",
			"mode", p.current.Mode,
			"expiresAt", p.current.ExpiresAt)
		return *p.current, nil
	}
	return cred, err
}

// Refresh discards the cached credential and resolves a new one.
func (p *CredentialProvider) Refresh(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveLocked(ctx)
}

// Mode returns the active authentication mode, or "" before Init.
func (p *CredentialProvider) Mode() config.AuthMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.Mode
}

// Current returns the cached credential without refreshing it.
func (p *CredentialProvider) Current() (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Credential{}, false
	}
	return *p.current, true
}

// TokenSource adapts the provider to oauth2 so each request pulls a fresh token.
func (p *CredentialProvider) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: p}
}

func (p *CredentialProvider) resolveLocked(ctx context.Context) (Credential, error) {
	log := logf.FromContext(ctx)

	var errs []error
	for _, strategy := range p.strategies {
		cred, err := strategy.fetch(ctx)
		if err != nil {
			log.Info("GitHub authentication mode unavailable", "mode", strategy.mode(), "reason", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", strategy.mode(), err))
			continue
		}
		if p.current == nil || p.current.Mode != cred.Mode {
			log.Info("Using GitHub authentication", "mode", cred.Mode, "configuredMode", p.cfg.AuthMode)
		}
		p.current = cred
		return *cred, nil
	}
	return Credential{}, fmt.Errorf("%w: %w", ErrCredentialUnavailable, errors.Join(errs...))
}

type providerTokenSource struct {
	ctx      context.Context
	provider *CredentialProvider
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.provider.Credential(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: cred.Token, TokenType: "Bearer", Expiry: cred.ExpiresAt}, nil
}

type patStrategy struct {
	token config.SecretSource
}

func (s *patStrategy) mode() config.AuthMode { return config.AuthModePAT }

func (s *patStrategy) fetch(_ context.Context) (*Credential, error) {
	token, err := readSecret("GitHub token", s.token)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: token, Mode: config.AuthModePAT}, nil
}

type appStrategy struct {
	appID          config.SecretSource
	installationID config.SecretSource
	privateKey     config.SecretSource
	exchanger      TokenExchanger
	clock          clock.PassiveClock
}

func (s *appStrategy) mode() config.AuthMode { return config.AuthModeApp }

func (s *appStrategy) fetch(ctx context.Context) (*Credential, error) {
	appID, err := readSecret("GitHub App ID", s.appID)
	if err != nil {
		return nil, err
	}
	rawInstallationID, err := readSecret("GitHub App installation ID", s.installationID)
	if err != nil {
		return nil, err
	}
	privateKey, err := readSecret("GitHub App private key", s.privateKey)
	if err != nil {
		return nil, err
	}
	installationID, err := strconv.ParseInt(rawInstallationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid installation ID %q: %w", rawInstallationID, err)
	}

	assertion, err := SignAppAssertion(appID, []byte(privateKey), s.clock.Now())
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.exchanger.ExchangeInstallationToken(ctx, installationID, assertion)
	if err != nil {
		return nil, err
	}
	return &Credential{Token: token, ExpiresAt: expiresAt, Mode: config.AuthModeApp}, nil
}

// SignAppAssertion builds the RS256 JWT that identifies a GitHub App:
// iss=appID, iat=now, exp=now+10m.
func SignAppAssertion(appID string, privateKeyPEM []byte, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("failed to parse GitHub App private key: %w", err)
	}
	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	signed, err := ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key).Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign GitHub App assertion: %w", err)
	}
	return signed, nil
}

type installationTokenExchanger struct {
	apiURL     string
	httpClient *http.Client
}

func (e *installationTokenExchanger) ExchangeInstallationToken(ctx context.Context, installationID int64, assertion string) (string, time.Time, error) {
	client, err := newRESTClient(e.httpClient, e.apiURL)
	if err != nil {
		return "", time.Time{}, err
	}
	token, _, err := client.WithAuthToken(assertion).Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create installation token for installation %d: %w", installationID, err)
	}
	if token.GetToken() == "" {
		return "", time.Time{}, fmt.Errorf("empty installation token for installation %d", installationID)
	}
	return token.GetToken(), token.GetExpiresAt().Time, nil
}
