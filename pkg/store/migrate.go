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

package store

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// migrators maps the schema version a migration upgrades FROM to the
// function performing the upgrade, the same versioned-step idea the
// flat-file store used. There is nothing to migrate yet at
// currentSchemaVersion 1; the map exists so the next schema change has
// a slot to land in.
var migrators = map[int]func(*Store) error{}

// migrate brings a freshly-opened store up to currentSchemaVersion,
// running each pending migrator in order and stamping the resulting
// version. Safe to call on every startup: a store already current is a
// no-op.
func migrate(s *Store) error {
	version, err := readSchemaVersion(s.db)
	if err != nil {
		return err
	}
	for version < currentSchemaVersion {
		m, ok := migrators[version]
		if !ok {
			return fmt.Errorf("no migrator registered from schema version %d", version)
		}
		if err := m(s); err != nil {
			return fmt.Errorf("migrate from schema version %d: %w", version, err)
		}
		version++
		if err := writeSchemaVersion(s.db, version); err != nil {
			return err
		}
	}
	return nil
}

func readSchemaVersion(db *bolt.DB) (int, error) {
	var version int
	err := db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get([]byte(schemaVersionKey))
		if v == nil {
			version = 0
			return nil
		}
		version = int(binary.BigEndian.Uint32(v))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if version == 0 {
		// A store with no stamped version but freshly-created buckets
		// was just opened for the first time by this package, never an
		// older one: treat it as already current rather than replaying
		// migrators that don't exist yet.
		if err := writeSchemaVersion(db, currentSchemaVersion); err != nil {
			return 0, err
		}
		return currentSchemaVersion, nil
	}
	return version, nil
}

func writeSchemaVersion(db *bolt.DB, version int) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(version))
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(schemaVersionKey), buf)
	})
}
