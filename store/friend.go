package store

import (
	"github.com/coreos/bbolt"
	"github.com/meshcredit/creditnode/wire"
)

// LoadFriend reads the full persisted record for one friend.
func (s *BoltStore) LoadFriend(pk wire.PublicKey) (*FriendRecord, error) {
	var rec *FriendRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		friends := tx.Bucket(friendsBucket)
		fb := friends.Bucket(pk[:])
		if fb == nil {
			return ErrNotFound
		}
		var err error
		rec, err = loadFriendBucket(pk, fb)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LoadAllFriends reads every persisted friend record.
func (s *BoltStore) LoadAllFriends() ([]*FriendRecord, error) {
	var out []*FriendRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		friends := tx.Bucket(friendsBucket)
		return friends.ForEach(func(k, v []byte) error {
			if v != nil {
				// Not a sub-bucket (shouldn't happen at this level).
				return nil
			}
			var pk wire.PublicKey
			copy(pk[:], k)
			fb := friends.Bucket(k)
			rec, err := loadFriendBucket(pk, fb)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadFriendBucket(pk wire.PublicKey, fb *bbolt.Bucket) (*FriendRecord, error) {
	rec := newFriendRecord(pk)

	var info friendInfo
	if err := getGob(fb, friendInfoKey, &info); err == nil {
		rec.Enabled = info.Enabled
	} else if err != ErrNotFound {
		return nil, err
	}

	var relays []wire.Relay
	if err := getGob(fb, []byte("relays"), &relays); err == nil {
		rec.Relays = relays
	} else if err != ErrNotFound {
		return nil, err
	}

	var currencies []wire.Currency
	if err := getGob(fb, []byte("currencies"), &currencies); err == nil {
		rec.Currencies = currencies
	} else if err != ErrNotFound {
		return nil, err
	}

	cur := fb.Bucket(currencyBucket)
	if cur == nil {
		return rec, nil
	}
	err := cur.ForEach(func(k, v []byte) error {
		if v != nil {
			return nil
		}
		currency := wire.Currency(k)
		cb := cur.Bucket(k)

		var ledger LedgerSnapshot
		if err := getGob(cb, ledgerKey, &ledger); err == nil {
			rec.Ledgers[currency] = &ledger
		} else if err != ErrNotFound {
			return err
		}

		var tc TokenChannelSnapshot
		if err := getGob(cb, tokenChannelKey, &tc); err == nil {
			rec.TokenChannels[currency] = &tc
		} else if err != ErrNotFound {
			return err
		}

		var rt wire.ResetTerms
		if err := getGob(cb, resetTermsKey, &rt); err == nil {
			rec.ResetTerms[currency] = &rt
		} else if err != ErrNotFound {
			return err
		}

		rec.PendingLocal[currency] = loadPendingBucket(cb, pendingLocalBucket)
		rec.PendingRemote[currency] = loadPendingBucket(cb, pendingRemoteBucket)
		return nil
	})
	return rec, err
}

func loadPendingBucket(cb *bbolt.Bucket, which []byte) map[wire.RequestID]*PendingTransactionSnapshot {
	out := make(map[wire.RequestID]*PendingTransactionSnapshot)
	pb := cb.Bucket(which)
	if pb == nil {
		return out
	}
	pb.ForEach(func(k, v []byte) error {
		var snap PendingTransactionSnapshot
		if err := getGob(pb, k, &snap); err == nil {
			var id wire.RequestID
			copy(id[:], k)
			out[id] = &snap
		}
		return nil
	})
	return out
}
