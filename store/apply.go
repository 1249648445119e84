package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/coreos/bbolt"
	"github.com/meshcredit/creditnode/wire"
)

// ApplyMutations commits batch as one bbolt transaction: either every
// mutation lands, or (on any error) none does, satisfying spec.md §6's
// "strictly ordered and durable at return."
func (s *BoltStore) ApplyMutations(ctx context.Context, batch []NodeMutation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, m := range batch {
			if err := applyOne(tx, m); err != nil {
				return fmt.Errorf("store: mutation %v for friend %s: %w", m.Kind, m.Friend, err)
			}
		}
		return nil
	})
}

func applyOne(tx *bbolt.Tx, m NodeMutation) error {
	friends := tx.Bucket(friendsBucket)

	switch m.Kind {
	case MutAddFriend:
		fb, err := friends.CreateBucketIfNotExists(m.Friend[:])
		if err != nil {
			return err
		}
		rec := newFriendRecord(m.Friend)
		rec.Enabled = false
		return putGob(fb, friendInfoKey, friendInfo{Enabled: rec.Enabled})

	case MutRemoveFriend:
		return friends.DeleteBucket(m.Friend[:])

	case MutSetFriendEnabled:
		fb := friends.Bucket(m.Friend[:])
		if fb == nil {
			return ErrNotFound
		}
		return putGob(fb, friendInfoKey, friendInfo{Enabled: m.Enabled})

	case MutSetFriendRelays:
		fb := friends.Bucket(m.Friend[:])
		if fb == nil {
			return ErrNotFound
		}
		return putGob(fb, []byte("relays"), m.Relays)

	case MutSetFriendCurrencies:
		fb := friends.Bucket(m.Friend[:])
		if fb == nil {
			return ErrNotFound
		}
		return putGob(fb, []byte("currencies"), m.Currencies)

	case MutSetLedger:
		cb, err := currencySubBucket(friends, m.Friend, m.Currency)
		if err != nil {
			return err
		}
		return putGob(cb, ledgerKey, m.Ledger)

	case MutSetTokenChannel:
		cb, err := currencySubBucket(friends, m.Friend, m.Currency)
		if err != nil {
			return err
		}
		return putGob(cb, tokenChannelKey, m.TokenChannel)

	case MutSetInconsistency:
		cb, err := currencySubBucket(friends, m.Friend, m.Currency)
		if err != nil {
			return err
		}
		return putGob(cb, resetTermsKey, m.ResetTerms)

	case MutClearInconsistency:
		cb, err := currencySubBucket(friends, m.Friend, m.Currency)
		if err != nil {
			return err
		}
		return cb.Delete(resetTermsKey)

	case MutInsertPendingLocal:
		return insertPending(friends, m, pendingLocalBucket)
	case MutRemovePendingLocal:
		return removePending(friends, m, pendingLocalBucket)
	case MutInsertPendingRemote:
		return insertPending(friends, m, pendingRemoteBucket)
	case MutRemovePendingRemote:
		return removePending(friends, m, pendingRemoteBucket)

	default:
		return fmt.Errorf("unknown mutation kind %d", m.Kind)
	}
}

type friendInfo struct {
	Enabled bool
}

func currencySubBucket(friends *bbolt.Bucket, pk wire.PublicKey, currency wire.Currency) (*bbolt.Bucket, error) {
	fb := friends.Bucket(pk[:])
	if fb == nil {
		return nil, ErrNotFound
	}
	cur, err := fb.CreateBucketIfNotExists(currencyBucket)
	if err != nil {
		return nil, err
	}
	return cur.CreateBucketIfNotExists([]byte(currency))
}

func insertPending(friends *bbolt.Bucket, m NodeMutation, which []byte) error {
	cb, err := currencySubBucket(friends, m.Friend, m.Currency)
	if err != nil {
		return err
	}
	pb, err := cb.CreateBucketIfNotExists(which)
	if err != nil {
		return err
	}
	return putGob(pb, m.RequestID[:], m.Pending)
}

func removePending(friends *bbolt.Bucket, m NodeMutation, which []byte) error {
	cb, err := currencySubBucket(friends, m.Friend, m.Currency)
	if err != nil {
		return err
	}
	pb := cb.Bucket(which)
	if pb == nil {
		return ErrNotFound
	}
	return pb.Delete(m.RequestID[:])
}

func putGob(b *bbolt.Bucket, key []byte, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return b.Put(key, buf.Bytes())
}

func getGob(b *bbolt.Bucket, key []byte, v interface{}) error {
	raw := b.Get(key)
	if raw == nil {
		return ErrNotFound
	}
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}
