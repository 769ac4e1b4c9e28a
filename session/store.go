package session

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/pop"
)

// StorageKey is the single key the session record is stored under.
const StorageKey = "prizm-wallet-state"

//go:embed record.schema.json
var recordSchemaJSON string

var (
	recordSchema     *gojsonschema.Schema
	recordSchemaErr  error
	recordSchemaOnce sync.Once
)

func loadSchema() (*gojsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordSchema, recordSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchemaJSON))
	})
	return recordSchema, recordSchemaErr
}

// Store persists the active session record in a KV.
type Store struct {
	kv     KV
	key    string
	logger *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKey overrides StorageKey.
func WithKey(key string) StoreOption {
	return func(s *Store) {
		s.key = key
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a Store that keeps the session record in kv under
// StorageKey.
func NewStore(kv KV, opts ...StoreOption) *Store {
	s := &Store{kv: kv, key: StorageKey, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes the record for sess and tier.
func (s *Store) Save(sess Session, tier pop.Tier) error {
	b, err := json.Marshal(NewRecord(sess, tier))
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	if err := s.kv.Set(s.key, b); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	return nil
}

// Load reads the persisted record. A missing, unparseable or invalid record
// is reported as no prior session; invalid content is removed.
func (s *Store) Load() (Session, pop.Tier, bool) {
	raw, ok, err := s.kv.Get(s.key)
	if err != nil {
		s.logger.Warn("failed to read session record", zap.Error(err))
		return Session{}, 0, false
	}
	if !ok {
		return Session{}, 0, false
	}

	sess, tier, err := ParseRecord(raw)
	if err != nil {
		s.logger.Warn("discarding session record", zap.Error(err))
		if err := s.kv.Delete(s.key); err != nil {
			s.logger.Warn("failed to delete session record", zap.Error(err))
		}
		return Session{}, 0, false
	}
	return sess, tier, true
}

// Clear removes the record.
func (s *Store) Clear() error {
	return s.kv.Delete(s.key)
}

// ParseRecord validates raw against the record schema and decodes it.
func ParseRecord(raw []byte) (Session, pop.Tier, error) {
	schema, err := loadSchema()
	if err != nil {
		return Session{}, 0, fmt.Errorf("failed to load record schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Session{}, 0, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Session{}, 0, fmt.Errorf("record is invalid: %s", strings.Join(msgs, "; "))
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Session{}, 0, fmt.Errorf("failed to decode session record: %w", err)
	}
	return rec.Decode()
}
