// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

package filter

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	metadataBucket = "metadata"
	versionKey     = "version"
	unknownBucket  = "unknown"

	ledgerVersion = 0
	entryLength   = 16
)

// UnknownHost is a ledger entry for a host that failed the filter check.
type UnknownHost struct {
	Host      string
	FirstSeen time.Time
	Hits      uint64
}

// UnknownHosts is the persistent ledger of rejected hosts, kept so that
// operators can decide which of them to add to the allowed list.
type UnknownHosts struct {
	db *bolt.DB
}

// OpenUnknownHosts opens, creating as needed, the ledger database at f.
func OpenUnknownHosts(f string) (*UnknownHosts, error) {
	db, err := bolt.Open(f, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(unknownBucket)); err != nil {
			return err
		}
		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != ledgerVersion {
				return fmt.Errorf("filter: incompatible unknown hosts ledger version: %v", b)
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{ledgerVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &UnknownHosts{db: db}, nil
}

// Record notes a rejected connect to host.
func (u *UnknownHosts) Record(host string) error {
	return u.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(unknownBucket))
		entry := make([]byte, entryLength)
		if old := bkt.Get([]byte(host)); len(old) == entryLength {
			copy(entry, old)
		} else {
			binary.BigEndian.PutUint64(entry[:8], uint64(time.Now().Unix()))
		}
		hits := binary.BigEndian.Uint64(entry[8:])
		binary.BigEndian.PutUint64(entry[8:], hits+1)
		return bkt.Put([]byte(host), entry)
	})
}

// Get returns the ledger entry of host.
func (u *UnknownHosts) Get(host string) (*UnknownHost, bool) {
	var h *UnknownHost
	_ = u.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(unknownBucket)).Get([]byte(host)); len(v) == entryLength {
			h = decodeEntry(host, v)
		}
		return nil
	})
	return h, h != nil
}

// Hosts returns every ledger entry, most requested first.
func (u *UnknownHosts) Hosts() ([]*UnknownHost, error) {
	hosts := []*UnknownHost{}
	err := u.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(unknownBucket)).ForEach(func(k, v []byte) error {
			if len(v) == entryLength {
				hosts = append(hosts, decodeEntry(string(k), v))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hosts, func(i, j int) bool { return hosts[i].Hits > hosts[j].Hits })
	return hosts, nil
}

// Close syncs and closes the ledger.
func (u *UnknownHosts) Close() error {
	u.db.Sync()
	return u.db.Close()
}

func decodeEntry(host string, v []byte) *UnknownHost {
	return &UnknownHost{
		Host:      host,
		FirstSeen: time.Unix(int64(binary.BigEndian.Uint64(v[:8])), 0),
		Hits:      binary.BigEndian.Uint64(v[8:]),
	}
}
