package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/iudanet/edusession/internal/client/token"
)

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (t tokenSource) Token() (*oauth2.Token, error) {
	access, err := t.m.GetValidAccessToken(t.ctx)
	if err != nil {
		return nil, err
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, err := token.DecodeExpiry(access); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}

// TokenSource отдает действующий access token для oauth2 клиентов.
// Каждый Token() спрашивает менеджер, поэтому выход и обновление в другом
// контексте видны сразу.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, m: m}
}

// HTTPClient возвращает клиент, который подставляет Authorization: Bearer.
// Базовый транспорт берется из ctx (ключ oauth2.HTTPClient), как у oauth2.NewClient,
// но без ReuseTokenSource: кеш oauth2 пережил бы Logout.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	var base http.RoundTripper
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc != nil {
		base = hc.Transport
	}
	return &http.Client{
		Transport: &oauth2.Transport{Base: base, Source: m.TokenSource(ctx)},
	}
}
