// Package journal keeps batches the order store refused in a local pebble
// database until they can be reconciled.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

const prefix = "batch/"

type Journal struct {
	db *pebble.DB
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func keyFor(id string) []byte {
	return []byte(prefix + id)
}

// Append stores entry synchronously. Entry ids are time ordered so keys sort
// oldest first.
func (j *Journal) Append(entry engine.JournalEntry) error {
	if entry.ID == "" {
		return errors.New("journal entry without id")
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return j.db.Set(keyFor(entry.ID), val, pebble.Sync)
}

func (j *Journal) Delete(id string) error {
	return j.db.Delete(keyFor(id), pebble.Sync)
}

// Scan visits every entry oldest first and stops at the first error fn
// returns.
func (j *Journal) Scan(fn func(engine.JournalEntry) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var entry engine.JournalEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Len counts pending entries.
func (j *Journal) Len() (int, error) {
	n := 0
	err := j.Scan(func(engine.JournalEntry) error {
		n++
		return nil
	})
	return n, err
}
