package usecase

import (
	"context"
	"log"

	"habita/internal/domain/entity"
	"habita/internal/domain/repository"
	"habita/internal/infrastructure/presence"
)

type AccountUseCase struct {
	accountRepo repository.AccountRepository
	presence    *presence.Store
}

func NewAccountUseCase(accountRepo repository.AccountRepository, presenceStore *presence.Store) *AccountUseCase {
	return &AccountUseCase{
		accountRepo: accountRepo,
		presence:    presenceStore,
	}
}

func (uc *AccountUseCase) GetAccount(ctx context.Context, id string) (*entity.Account, error) {
	return uc.accountRepo.GetByID(ctx, id)
}

// SearchContacts finds accounts a user can start a conversation with,
// optionally narrowed by role (merchant, consultant).
func (uc *AccountUseCase) SearchContacts(ctx context.Context, role, query string, limit int) ([]*entity.Account, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return uc.accountRepo.Search(ctx, role, query, limit)
}

// Presence reports whether an account currently has a live connection.
func (uc *AccountUseCase) Presence(ctx context.Context, accountID string) (*presence.Info, error) {
	if uc.presence == nil {
		return &presence.Info{Status: "offline"}, nil
	}
	info, err := uc.presence.Get(ctx, accountID)
	if err != nil {
		log.Printf("Presence Error: Failed to read presence for %s: %v", accountID, err)
		return nil, err
	}
	return info, nil
}
