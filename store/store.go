// Package store is the default, bbolt-backed reference implementation of
// the external DatabaseClient API (spec.md §6): an async
// (mutations_batch) -> Result<()> call, strictly ordered and durable at
// return. Bucket layout follows channeldb/channel.go's node-ID-keyed
// nested-bucket convention, generalized from one bitcoin channel to the
// full per-node friend/currency/pending-transaction state spec.md §3
// describes.
package store

import (
	"context"
	"fmt"

	"github.com/coreos/bbolt"
	"github.com/meshcredit/creditnode/wire"
)

var (
	// friendsBucket -> friendPK -> friendInfoKey | currency sub-bucket
	friendsBucket = []byte("friends-bucket")

	// friendInfoKey stores the Friend record's enabled flag within a
	// friend's bucket.
	friendInfoKey = []byte("friend-info-key")

	// currencyBucket nests under a friend's bucket, keyed by currency name,
	// holding that (friend, currency) pair's ledger + token-channel state.
	currencyBucket = []byte("currency-bucket")

	ledgerKey       = []byte("ledger-key")
	tokenChannelKey = []byte("token-channel-key")
	resetTermsKey   = []byte("reset-terms-key")

	pendingLocalBucket  = []byte("pending-local-bucket")
	pendingRemoteBucket = []byte("pending-remote-bucket")
)

// ErrNotFound is returned when a lookup finds no record.
var ErrNotFound = fmt.Errorf("store: not found")

// DatabaseClient is the external database API this module consumes
// (spec.md §6). ApplyMutations commits batch as a single durable,
// all-or-nothing transaction.
type DatabaseClient interface {
	ApplyMutations(ctx context.Context, batch []NodeMutation) error

	LoadFriend(pk wire.PublicKey) (*FriendRecord, error)
	LoadAllFriends() ([]*FriendRecord, error)
}

// BoltStore is the bbolt-backed DatabaseClient.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the node's single file-backed key-value
// store at path, per spec.md §6.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(friendsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ DatabaseClient = (*BoltStore)(nil)
