package stripe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lluvia-ai/lluvia-billing/pkg/billing"
	"github.com/lluvia-ai/lluvia-billing/pkg/entitlement"
)

func TestNewProvider_Validation(t *testing.T) {
	store := newFakeStore()
	mapper := testMapper(entitlement.PolicyLenient)

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "missing store",
			config:  Config{Config: billing.Config{Mapper: mapper}, APIKey: "sk_test"},
			wantErr: billing.ErrProviderNotConfigured,
		},
		{
			name:    "missing mapper",
			config:  Config{Config: billing.Config{Store: store}, APIKey: "sk_test"},
			wantErr: billing.ErrProviderNotConfigured,
		},
		{
			name:    "missing api key and client",
			config:  Config{Config: billing.Config{Store: store, Mapper: mapper}},
			wantErr: billing.ErrProviderNotConfigured,
		},
		{
			name:   "api key only",
			config: Config{Config: billing.Config{Store: store, Mapper: mapper}, APIKey: "sk_test"},
		},
		{
			name:   "injected api client without key",
			config: Config{Config: billing.Config{Store: store, Mapper: mapper}, API: &fakeAPI{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "stripe", provider.Name())
		})
	}
}

func TestNewProvider_Defaults(t *testing.T) {
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:  newFakeStore(),
			Mapper: testMapper(entitlement.PolicyLenient),
		},
		API: &fakeAPI{},
	})
	require.NoError(t, err)

	assert.NotNil(t, provider.logger, "nil logger defaults to noop")
	assert.NotNil(t, provider.metrics, "nil metrics defaults to noop")
	assert.Equal(t, "*", provider.allowedOrigin)
	assert.NotNil(t, provider.WebhookHandler())
}
