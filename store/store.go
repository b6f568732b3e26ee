// Package store persists ban registry entries and culprit-tracking state
// across coordinator restarts on an embedded buntdb database, standing in
// for the teacher's own jsp-based persistent metadata files (volume/vmd.go)
// at a much smaller scale: a handful of small records, not a volume map.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"

	jsoniter "github.com/json-iterator/go"

	"github.com/xu354cjo1008/ctdb/ban"
	"github.com/xu354cjo1008/ctdb/cluster"
)

const (
	banPrefix     = "ban:"
	culpritKey    = "culprit"
	syncInterval  = time.Second
)

// Store wraps one buntdb database file.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if absent) the on-disk database at path. An empty
// path opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.EverySecond}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: configure sync policy")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PersistedBan is the on-disk shape of a ban.Entry.
type PersistedBan struct {
	PNN     int32 `json:"pnn"`
	SinceNs int64 `json:"since_ns"`
	Seconds int64 `json:"seconds"`
}

// SaveBans overwrites every persisted ban entry with the registry's current
// snapshot.
func (s *Store) SaveBans(entries map[cluster.PNN]ban.Entry) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		if err := clearPrefix(tx, banPrefix); err != nil {
			return err
		}
		for pnn, e := range entries {
			rec := PersistedBan{PNN: int32(pnn), SinceNs: e.Since.UnixNano(), Seconds: e.Seconds}
			b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(rec)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(banKey(pnn), string(b), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadBans returns every persisted ban entry, keyed by pnn.
func (s *Store) LoadBans() (map[cluster.PNN]ban.Entry, error) {
	out := make(map[cluster.PNN]ban.Entry)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(banPrefix+"*", func(key, value string) bool {
			var rec PersistedBan
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(value), &rec); err != nil {
				return true // skip a corrupt record rather than aborting the whole load
			}
			out[cluster.PNN(rec.PNN)] = ban.Entry{
				Target:  cluster.PNN(rec.PNN),
				Since:   time.Unix(0, rec.SinceNs),
				Seconds: rec.Seconds,
			}
			return true
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "store: load bans")
	}
	return out, nil
}

// PersistedCulprit is the on-disk shape of the master-local culprit tracker
// (spec.md §3).
type PersistedCulprit struct {
	LastCulprit int32 `json:"last_culprit"`
	FirstTimeNs int64 `json:"first_time_ns"`
	Counter     int   `json:"counter"`
}

func (s *Store) SaveCulprit(c PersistedCulprit) error {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(culpritKey, string(b), nil)
		return err
	})
}

func (s *Store) LoadCulprit() (PersistedCulprit, bool, error) {
	var c PersistedCulprit
	var found bool
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(culpritKey)
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return nil
			}
			return err
		}
		found = true
		return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(val), &c)
	})
	return c, found, err
}

func banKey(pnn cluster.PNN) string { return banPrefix + strconv.FormatInt(int64(pnn), 10) }

func clearPrefix(tx *buntdb.Tx, prefix string) error {
	var keys []string
	if err := tx.AscendKeys(prefix+"*", func(key, _ string) bool {
		keys = append(keys, key)
		return true
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("store: delete %s: %w", k, err)
		}
	}
	return nil
}
