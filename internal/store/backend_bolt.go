package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var messagesBucket = []byte("messages")

// BoltBackend persists messages in a single bbolt file. Keys are
// chat_id + 0x00 + big-endian id so a cursor walks chats in append order.
type BoltBackend struct {
	db *bolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func messageKey(chatID string, id uint64) []byte {
	key := make([]byte, 0, len(chatID)+9)
	key = append(key, chatID...)
	key = append(key, 0)
	var idb [8]byte
	binary.BigEndian.PutUint64(idb[:], id)
	return append(key, idb[:]...)
}

func (b *BoltBackend) SaveMessage(_ context.Context, msg StoredMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).Put(messageKey(msg.ChatID, msg.ID), value)
	})
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (b *BoltBackend) LoadMessages(_ context.Context) ([]StoredMessage, error) {
	var out []StoredMessage
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).ForEach(func(_, value []byte) error {
			var m StoredMessage
			if err := json.Unmarshal(value, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return out, nil
}

func (b *BoltBackend) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(messagesBucket).Cursor()
		var expired [][]byte
		for key, value := c.First(); key != nil && len(expired) < limit; key, value = c.Next() {
			var m StoredMessage
			if err := json.Unmarshal(value, &m); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			if m.Timestamp.Before(cutoff) {
				expired = append(expired, bytes.Clone(key))
			}
		}
		for _, key := range expired {
			if err := tx.Bucket(messagesBucket).Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	return deleted, nil
}

func (b *BoltBackend) DeleteAll(_ context.Context) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(messagesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(messagesBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete all messages: %w", err)
	}
	return nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
