package driven

import (
	"context"

	"github.com/ericfisherdev/coinsplit/internal/domain/model"
)

// ExpenseProvider defines the driven port for an external expense-sharing
// service. Every method receives decrypted credentials and returns a
// *ProviderError on failure.
type ExpenseProvider interface {
	// Type reports which provider this client talks to.
	Type() model.ProviderType

	CreateExpense(ctx context.Context, creds model.Credentials, in model.ExpenseInput) (model.ExpenseResult, error)
	UpdateExpense(ctx context.Context, creds model.Credentials, externalExpenseID string, upd model.ExpenseUpdate) (model.ExpenseResult, error)
	DeleteExpense(ctx context.Context, creds model.Credentials, externalExpenseID string) error

	// ValidateCredentials returns false, nil when the provider rejects the
	// credentials and an error only when validation itself could not run.
	ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error)

	// RefreshCredentials returns new credentials when the stored ones have
	// expired, or nil when no refresh is needed.
	RefreshCredentials(ctx context.Context, creds model.Credentials) (*model.Credentials, error)
}

// OAuthProvider is implemented by providers that connect through an OAuth2
// authorization-code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (model.Credentials, error)
}

// IdentityResolver is implemented by providers that can report the external
// user id the credentials belong to.
type IdentityResolver interface {
	CurrentUserID(ctx context.Context, creds model.Credentials) (string, error)
}
