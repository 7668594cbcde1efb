package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const boltBucket = "kv"

// boltRecord хранится в бакете в виде JSON.
type boltRecord struct {
	Value     []byte `json:"v,omitempty"`
	Count     int64  `json:"n,omitempty"`
	ExpiresAt int64  `json:"e,omitempty"`
}

func (r boltRecord) expiresAt() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, r.ExpiresAt)
}

// Bolt хранит данные во встроенной базе BoltDB. Подходит для одного хоста:
// файл переживает перезапуск процесса, но не разделяется между машинами.
type Bolt struct {
	db  *bolt.DB
	now Clock
}

// OpenBolt открывает (или создаёт) файл базы и бакет для ключей.
func OpenBolt(path string, clock Clock) (*Bolt, error) {
	if clock == nil {
		clock = time.Now
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Bolt{db: db, now: clock}, nil
}

// Get возвращает значение ключа.
func (b *Bolt) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		rec   boltRecord
		found bool
	)

	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(boltBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}

	if !found || expired(rec.expiresAt(), b.now()) {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Set сохраняет значение ключа.
func (b *Bolt) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	rec := boltRecord{Value: value}
	if exp := expiry(b.now(), ttl); !exp.IsZero() {
		rec.ExpiresAt = exp.UnixNano()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete удаляет ключ.
func (b *Bolt) Delete(_ context.Context, key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// Incr увеличивает счётчик в одной транзакции записи.
func (b *Bolt) Incr(_ context.Context, key string, ttl time.Duration) (Counter, error) {
	if ttl <= 0 {
		return Counter{}, ErrInvalidTTL
	}

	var rec boltRecord
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		now := b.now()

		if v := bucket.Get([]byte(key)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if expired(rec.expiresAt(), now) {
				rec = boltRecord{}
			}
		}

		if rec.ExpiresAt == 0 {
			rec.ExpiresAt = expiry(now, ttl).UnixNano()
		}
		rec.Count++

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return Counter{}, fmt.Errorf("incr %q: %w", key, err)
	}

	return Counter{Value: rec.Count, ExpiresAt: rec.expiresAt()}, nil
}

// Purge удаляет истёкшие записи и возвращает их количество.
func (b *Bolt) Purge() (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boltBucket))
		now := b.now()

		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if expired(rec.expiresAt(), now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return removed, nil
}

// Close освобождает файл базы.
func (b *Bolt) Close() error {
	return b.db.Close()
}
