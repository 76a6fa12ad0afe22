package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/provider"
)

// WalletAdminStore is the persistence surface for wallet lifecycle
// operations.
type WalletAdminStore interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	Get(ctx context.Context, id string) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Wallet, error)
	FindByAddress(ctx context.Context, userID, chain, address string) (*models.Wallet, error)
	Deactivate(ctx context.Context, id string) error
}

// CredentialSealer encrypts provider credentials for storage.
type CredentialSealer interface {
	Encrypt(plaintext string) (string, error)
}

// CreateWalletInput carries everything needed to connect a wallet. Key
// material is accepted in plaintext here and sealed before it touches the
// database.
type CreateWalletInput struct {
	UserID    string            `json:"userId"`
	Name      string            `json:"name"`
	Kind      models.WalletKind `json:"kind"`
	Provider  string            `json:"provider,omitempty"`
	Chain     string            `json:"chain,omitempty"`
	Address   string            `json:"address,omitempty"`
	APIKey    string            `json:"apiKey,omitempty"`
	APISecret string            `json:"apiSecret,omitempty"`
}

// WalletService manages the wallet lifecycle: connect, list, deactivate.
type WalletService struct {
	wallets  WalletAdminStore
	vault    CredentialSealer
	registry ProviderResolver
	logger   zerolog.Logger
}

// NewWalletService creates a wallet service.
func NewWalletService(wallets WalletAdminStore, vault CredentialSealer, registry ProviderResolver, logger zerolog.Logger) *WalletService {
	return &WalletService{
		wallets:  wallets,
		vault:    vault,
		registry: registry,
		logger:   logger.With().Str("component", "wallets").Logger(),
	}
}

// Create validates the input against the target provider, seals any key
// material, and persists the wallet in NEVER_SYNCED state.
func (s *WalletService) Create(ctx context.Context, input CreateWalletInput) (*models.Wallet, error) {
	if input.UserID == "" {
		return nil, apperrors.NewValidationError("userId", "required")
	}
	if input.Name == "" {
		return nil, apperrors.NewValidationError("name", "required")
	}
	if !input.Kind.Valid() {
		return nil, apperrors.NewValidationError("kind", "unknown wallet kind")
	}

	wallet := &models.Wallet{
		UserID:   input.UserID,
		Name:     input.Name,
		Kind:     input.Kind,
		Provider: input.Provider,
		Chain:    input.Chain,
		Address:  input.Address,
	}

	switch input.Kind {
	case models.WalletKindBlockchain:
		if err := s.prepareBlockchain(ctx, wallet, input); err != nil {
			return nil, err
		}
	case models.WalletKindExchange, models.WalletKindBank:
		if err := s.prepareCredentialed(ctx, wallet, input); err != nil {
			return nil, err
		}
	case models.WalletKindManual:
		// Nothing to validate; manual wallets never sync.
	}

	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("wallet", wallet.ID).
		Str("user", wallet.UserID).
		Str("kind", string(wallet.Kind)).
		Msg("wallet connected")
	return wallet, nil
}

func (s *WalletService) prepareBlockchain(ctx context.Context, wallet *models.Wallet, input CreateWalletInput) error {
	if input.Chain == "" {
		return apperrors.NewValidationError("chain", "required for blockchain wallets")
	}
	if input.Address == "" {
		return apperrors.NewValidationError("address", "required for blockchain wallets")
	}

	existing, err := s.wallets.FindByAddress(ctx, input.UserID, input.Chain, input.Address)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperrors.NewConflictError("address already connected on this chain")
	}

	src, err := s.registry.For(wallet)
	if err != nil {
		return err
	}
	ok, err := src.ValidateCredentials(ctx, provider.Credentials{Address: input.Address})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewValidationError("address", "not a valid address for "+input.Chain)
	}
	return nil
}

func (s *WalletService) prepareCredentialed(ctx context.Context, wallet *models.Wallet, input CreateWalletInput) error {
	if input.Provider == "" {
		return apperrors.NewValidationError("provider", "required")
	}
	if input.APIKey == "" {
		return apperrors.NewValidationError("apiKey", "required")
	}

	src, err := s.registry.For(wallet)
	if err != nil {
		return err
	}
	creds := provider.Credentials{APIKey: input.APIKey, APISecret: input.APISecret}
	ok, err := src.ValidateCredentials(ctx, creds)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewProviderAuthError(src.Name(), nil)
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return apperrors.NewInternalError("encoding credentials", err)
	}
	sealed, err := s.vault.Encrypt(string(plaintext))
	if err != nil {
		return err
	}
	wallet.EncryptedCredentials = sealed
	return nil
}

// List returns a user's wallets. Credentials never leave the storage row;
// the model hides them from serialization.
func (s *WalletService) List(ctx context.Context, userID string) ([]*models.Wallet, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("userId", "required")
	}
	return s.wallets.ListByUser(ctx, userID)
}

// Get returns one wallet, scoped to its owner.
func (s *WalletService) Get(ctx context.Context, userID, walletID string) (*models.Wallet, error) {
	wallet, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.UserID != userID {
		return nil, apperrors.NewNotFoundError("wallet", walletID)
	}
	return wallet, nil
}

// Deactivate moves a wallet to the terminal DEACTIVATED state. Positions
// and ledger entries are kept for history.
func (s *WalletService) Deactivate(ctx context.Context, userID, walletID string) error {
	if _, err := s.Get(ctx, userID, walletID); err != nil {
		return err
	}
	return s.wallets.Deactivate(ctx, walletID)
}
