package service

import (
	"context"

	"github.com/Shivanand-hulikatti/resource-reservation/internal/repository"
)

// Store is the entity store the booking engine runs on. WithinTx runs fn in
// one transaction: it commits when fn returns nil and rolls back otherwise,
// releasing every lock taken through the Tx either way.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside one transaction.
type Tx = repository.Tx
