// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the state store: users, secrets, configs and deploy
// generations, persisted in an embedded key-value database. Users and
// secrets are keyed by UUID; deploy generations are keyed by a
// per-project sequence number, not a UUID.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shiphq/ship/pkg/model"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketUsers   = []byte("users")
	bucketSecrets = []byte("secrets")
	bucketConfigs = []byte("configs")
	bucketDeploys = []byte("deploys") // sub-bucket per project, keyed by sequence
	bucketMeta    = []byte("meta")
)

const schemaVersionKey = "schema_version"
const currentSchemaVersion = 1

// ConflictError is returned when an insert collides with an existing
// record the caller didn't expect.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// Store wraps a bbolt database file, exposing the three capabilities the
// planning core consumes (secrets, last_deploys, append_deploy) plus the
// user and secret management the HTTP surface needs.
type Store struct {
	db *bolt.DB
}

// Open creates or opens path, idempotently creating the top-level
// buckets and running any pending migrations on every startup.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketUsers, bucketSecrets, bucketConfigs, bucketDeploys, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(s); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// User is a stored account record.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

// CreateUser inserts a new user, rejecting a duplicate username.
func (s *Store) CreateUser(u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return u, s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		existing, err := findUserByUsername(b, u.Username)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConflictError{Msg: fmt.Sprintf("user %q already exists", u.Username)}
		}
		buf, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(u.ID), buf)
	})
}

// UserByUsername looks up a user by username, returning (nil, nil) when
// absent.
func (s *Store) UserByUsername(username string) (*User, error) {
	var found *User
	err := s.db.View(func(tx *bolt.Tx) error {
		u, err := findUserByUsername(tx.Bucket(bucketUsers), username)
		found = u
		return err
	})
	return found, err
}

func findUserByUsername(b *bolt.Bucket, username string) (*User, error) {
	var found *User
	err := b.ForEach(func(k, v []byte) error {
		var u User
		if err := json.Unmarshal(v, &u); err != nil {
			return err
		}
		if u.Username == username {
			uu := u
			found = &uu
		}
		return nil
	})
	return found, err
}

// AnyUserExists reports whether at least one user has been registered
// (backs `GET /auth/super`).
func (s *Store) AnyUserExists() (bool, error) {
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketUsers).Cursor()
		k, _ := c.First()
		exists = k != nil
		return nil
	})
	return exists, err
}

// ListUsers returns every stored user, sorted by username.
func (s *Store) ListUsers() ([]User, error) {
	var out []User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, err
}

// AddSecret inserts a project secret, rejecting a duplicate key.
func (s *Store) AddSecret(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		if existing, err := findSecretKey(b, key); err != nil {
			return err
		} else if existing {
			return &ConflictError{Msg: fmt.Sprintf("secret %q already exists", key)}
		}
		rec := model.Secret{Key: key, Value: value, CreatedAt: time.Now().Unix()}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(uuid.NewString()), buf)
	})
}

// UpdateSecret overwrites the value for an existing key.
func (s *Store) UpdateSecret(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		id, rec, err := findSecret(b, key)
		if err != nil {
			return err
		}
		if id == nil {
			return fmt.Errorf("secret %q not found", key)
		}
		rec.Value = value
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(id, buf)
	})
}

// DeleteSecret removes a key, no-op if absent.
func (s *Store) DeleteSecret(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		id, _, err := findSecret(b, key)
		if err != nil || id == nil {
			return err
		}
		return b.Delete(id)
	})
}

// Secret looks up one key.
func (s *Store) Secret(key string) (*model.Secret, error) {
	var rec *model.Secret
	err := s.db.View(func(tx *bolt.Tx) error {
		_, r, err := findSecret(tx.Bucket(bucketSecrets), key)
		rec = r
		return err
	})
	return rec, err
}

// Secrets returns every stored (key, value) pair — the planner's sole
// view of the secret store.
func (s *Store) Secrets() (map[string]string, error) {
	out := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).ForEach(func(k, v []byte) error {
			var rec model.Secret
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[rec.Key] = rec.Value
			return nil
		})
	})
	return out, err
}

// ListSecretKeys returns every secret's key, sorted, without values.
func (s *Store) ListSecretKeys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).ForEach(func(k, v []byte) error {
			var rec model.Secret
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			keys = append(keys, rec.Key)
			return nil
		})
	})
	sort.Strings(keys)
	return keys, err
}

func findSecretKey(b *bolt.Bucket, key string) (bool, error) {
	id, _, err := findSecret(b, key)
	return id != nil, err
}

func findSecret(b *bolt.Bucket, key string) ([]byte, *model.Secret, error) {
	var id []byte
	var rec *model.Secret
	err := b.ForEach(func(k, v []byte) error {
		var r model.Secret
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if r.Key == key {
			id = append([]byte(nil), k...)
			rr := r
			rec = &rr
		}
		return nil
	})
	return id, rec, err
}

// generationRecord is the on-disk shape of one persisted generation: a
// project-scoped monotonic sequence number plus the serialized deploy
// batch.
type generationRecord struct {
	Seq       uint64         `json:"seq"`
	CreatedAt int64          `json:"created_at"`
	Deploys   []model.Deploy `json:"deploys"`
}

// AppendDeploy appends a new generation for project, stamped with the
// current time.
func (s *Store) AppendDeploy(project string, deploys []model.Deploy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketDeploys)
		pb, err := root.CreateBucketIfNotExists([]byte(project))
		if err != nil {
			return err
		}
		seq, err := pb.NextSequence()
		if err != nil {
			return err
		}
		rec := generationRecord{Seq: seq, CreatedAt: time.Now().Unix(), Deploys: deploys}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return pb.Put(seqKey(seq), buf)
	})
}

// LastDeploys returns the k-th most recent generation for project
// (k=1 is the latest), or (nil, nil) if there is no such generation.
func (s *Store) LastDeploys(project string, k int) (*model.Generation, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}
	var gen *model.Generation
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketDeploys)
		pb := root.Bucket([]byte(project))
		if pb == nil {
			return nil
		}
		c := pb.Cursor()
		n := 0
		for key, v := c.Last(); key != nil; key, v = c.Prev() {
			n++
			if n != k {
				continue
			}
			var rec generationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			gen = &model.Generation{Project: project, Deploys: rec.Deploys, CreatedAt: rec.CreatedAt}
			return nil
		}
		return nil
	})
	return gen, err
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
