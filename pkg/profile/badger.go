package profile

import (
	"context"
	"errors"
	"iter"
	"log"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/hearsay-ai/hearsay/pkg/pitch"
)

const keyPrefix = "profile:"

// BadgerOptions configures the Badger-backed store.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory runs the database without touching disk.
	InMemory bool

	// Logger overrides the default quiet logger.
	Logger badger.Logger
}

// BadgerStore persists profiles in a Badger database, one msgpack
// record per profile.
type BadgerStore struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger-backed profile store.
func NewBadger(bopts BadgerOptions) (*BadgerStore, error) {
	opts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		opts = opts.WithInMemory(true)
	}
	if bopts.Logger != nil {
		opts = opts.WithLogger(bopts.Logger)
	} else {
		opts = opts.WithLogger(defaultLogger{})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func getTxn(txn *badger.Txn, id string) (*Profile, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := msgpack.Unmarshal(val, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func setTxn(txn *badger.Txn, p *Profile) error {
	val, err := msgpack.Marshal(p)
	if err != nil {
		return err
	}
	return txn.Set(key(p.ID), val)
}

// scanTxn applies fn to every decodable profile in the transaction.
func scanTxn(txn *badger.Txn, fn func(*Profile) bool) error {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = []byte(keyPrefix)
	it := txn.NewIterator(iterOpts)
	defer it.Close()
	for it.Seek(iterOpts.Prefix); it.ValidForPrefix(iterOpts.Prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		var p Profile
		if err := msgpack.Unmarshal(val, &p); err != nil {
			continue // skip malformed entries
		}
		if !fn(&p) {
			return nil
		}
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*Profile, error) {
	var out *Profile
	err := s.db.View(func(txn *badger.Txn) error {
		p, err := getTxn(txn, id)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) List(ctx context.Context) iter.Seq2[*Profile, error] {
	return func(yield func(*Profile, error) bool) {
		stopped := false
		err := s.db.View(func(txn *badger.Txn) error {
			return scanTxn(txn, func(p *Profile) bool {
				if !yield(p, nil) {
					stopped = true
					return false
				}
				return true
			})
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

func (s *BadgerStore) Create(ctx context.Context, p *Profile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		now := time.Now()
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.Color == "" {
			count := 0
			if err := scanTxn(txn, func(*Profile) bool { count++; return true }); err != nil {
				return err
			}
			p.Color = ColorFor(count + 1)
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.LastSeenAt.IsZero() {
			p.LastSeenAt = now
		}
		return setTxn(txn, p)
	})
}

func (s *BadgerStore) Update(ctx context.Context, p *Profile) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getTxn(txn, p.ID); err != nil {
			return err
		}
		return setTxn(txn, p)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := getTxn(txn, id); err != nil {
			return err
		}
		return txn.Delete(key(id))
	})
}

func (s *BadgerStore) Confirm(ctx context.Context, id, name string, kind Kind) (*Profile, error) {
	var out *Profile
	err := s.db.Update(func(txn *badger.Txn) error {
		p, err := getTxn(txn, id)
		if err != nil {
			return err
		}
		p.Name = name
		p.Kind = kind
		p.Confirmed = true
		p.LastSeenAt = time.Now()
		if err := setTxn(txn, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) CreateAuto(ctx context.Context, fp pitch.Profile, batchID, sampleText string) (*Profile, error) {
	var out *Profile
	err := s.db.Update(func(txn *badger.Txn) error {
		var names []string
		if err := scanTxn(txn, func(p *Profile) bool {
			names = append(names, p.Name)
			return true
		}); err != nil {
			return err
		}
		n := nextAutoNumber(names)

		now := time.Now()
		p := &Profile{
			ID:         uuid.NewString(),
			Name:       autoName(n),
			Kind:       KindOther,
			Color:      ColorFor(n),
			Pitch:      &fp,
			SampleText: sampleText,
			BatchID:    batchID,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		if err := setTxn(txn, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) FindBySimilarity(ctx context.Context, r pitch.Result, thresholdPercent float64) (*Profile, float64, error) {
	var best *Profile
	bestScore := 0.0
	err := s.db.View(func(txn *badger.Txn) error {
		return scanTxn(txn, func(p *Profile) bool {
			if p.Pitch == nil {
				return true
			}
			score := pitch.Compare(r, p.Pitch.Result)
			if score >= thresholdPercent && score > bestScore {
				best = p
				bestScore = score
			}
			return true
		})
	})
	if err != nil {
		return nil, 0, err
	}
	if best == nil {
		return nil, 0, nil
	}
	return best, bestScore, nil
}

func (s *BadgerStore) UpdatePitch(ctx context.Context, id string, r pitch.Result) error {
	return s.db.Update(func(txn *badger.Txn) error {
		p, err := getTxn(txn, id)
		if err != nil {
			return err
		}
		if p.Pitch == nil {
			fp := pitch.NewProfile(r)
			p.Pitch = &fp
		} else {
			merged := pitch.Merge(*p.Pitch, r)
			p.Pitch = &merged
		}
		p.LastSeenAt = time.Now()
		return setTxn(txn, p)
	})
}

// defaultLogger routes Badger errors and warnings to the standard
// logger and drops the rest.
type defaultLogger struct{}

func (defaultLogger) Errorf(format string, args ...any) {
	log.Printf("[badger] ERROR: "+format, args...)
}

func (defaultLogger) Warningf(format string, args ...any) {
	log.Printf("[badger] WARN: "+format, args...)
}

func (defaultLogger) Infof(string, ...any)  {}
func (defaultLogger) Debugf(string, ...any) {}
