package service

import "context"

// TxRepositories are repositories bound to a single transaction.
type TxRepositories interface {
	// LockDocument holds an exclusive lock on the document's chunk set until
	// the transaction ends. Workers in other processes block on it, so one
	// document never ends up with chunks from two rewrites.
	LockDocument(ctx context.Context, documentID string) error
	Documents() DocumentRepository
	Chunks() ChunkStore
	Jobs() JobRepository
}

// TxRunner executes fn in a transaction, committing when it returns nil.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}
