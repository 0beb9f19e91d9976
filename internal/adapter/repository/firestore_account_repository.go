package repository

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"habita/internal/domain/entity"
	"habita/internal/domain/repository"
	"habita/pkg/errors"
	"habita/pkg/logger"
)

type firestoreAccountRepository struct {
	client *firestore.Client
}

func NewFirestoreAccountRepository(client *firestore.Client) repository.AccountRepository {
	return &firestoreAccountRepository{
		client: client,
	}
}

func (r *firestoreAccountRepository) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	doc, err := r.client.Collection("accounts").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Account", err)
		}
		return nil, errors.Internal("Failed to get account", err)
	}

	var account entity.Account
	if err := doc.DataTo(&account); err != nil {
		return nil, errors.Internal("Failed to parse account data", err)
	}

	return &account, nil
}

func (r *firestoreAccountRepository) Search(ctx context.Context, role, query string, limit int) ([]*entity.Account, error) {
	q := r.client.Collection("accounts").Query
	if role != "" {
		q = q.Where("role", "==", role)
	}
	if query != "" {
		// Prefix range scan on name; good enough without a search index.
		q = q.Where("name", ">=", query).Where("name", "<=", query+"").OrderBy("name", firestore.Asc)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	var accounts []*entity.Account

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while searching accounts: %v", err)
			return nil, errors.Internal("Failed to search accounts", err)
		}

		var account entity.Account
		if err := doc.DataTo(&account); err != nil {
			continue
		}
		if account.Status != "" && !strings.EqualFold(account.Status, "active") {
			continue
		}
		accounts = append(accounts, &account)
	}

	return accounts, nil
}
