package domain

import (
	"context"
	"strings"
)

// StaticCredentialProvider serves a fixed marketplace credential, usually
// loaded from configuration at startup.
type StaticCredentialProvider struct {
	cred Credential
}

func NewStaticCredentialProvider(apiKey, accountID string) *StaticCredentialProvider {
	return &StaticCredentialProvider{
		cred: Credential{
			APIKey:    strings.TrimSpace(apiKey),
			AccountID: strings.TrimSpace(accountID),
		},
	}
}

func (p *StaticCredentialProvider) MarketplaceCredential(ctx context.Context) (Credential, error) {
	if p == nil || p.cred.APIKey == "" {
		return Credential{}, ErrNoMarketplaceCredential
	}
	return p.cred, nil
}
