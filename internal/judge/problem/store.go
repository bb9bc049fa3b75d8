// Package problem fetches test cases and execution wrappers for a
// problem/language pair from MySQL, with a Redis read-through cache and
// optional object-storage data packs for large test sets.
package problem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"judgelet/internal/common/db"
	"judgelet/internal/judge/stream"
	"judgelet/internal/judge/wrapper"
	appErr "judgelet/pkg/errors"
	"judgelet/pkg/utils/logger"
)

const defaultCacheTTL = 10 * time.Minute

// Data is everything the runner needs for one problem/language pair.
type Data struct {
	TestCases []stream.TestCase `json:"test_cases"`
	Wrapper   *wrapper.Wrapper  `json:"execution_wrapper,omitempty"`
}

// Cache is the subset of the Redis client the store uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// PackStorage reads data-pack objects; nil disables pack support.
type PackStorage interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Store resolves problem metadata. cache and packs are optional.
type Store struct {
	db    *db.MySQL
	cache Cache
	packs PackStorage
	ttl   time.Duration
}

// NewStore builds a store. Pass nil cache or packs to disable those layers.
func NewStore(database *db.MySQL, cache Cache, packs PackStorage, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Store{db: database, cache: cache, packs: packs, ttl: ttl}
}

// GetTestsAndExecution returns the test cases (sample-first) and the optional
// wrapper for a problem/language pair, or nil when either is unknown.
func (s *Store) GetTestsAndExecution(ctx context.Context, problemSlug, languageTag string) (*Data, error) {
	key := cacheKey(problemSlug, languageTag)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil && raw != "" {
			var data Data
			if err := json.Unmarshal([]byte(raw), &data); err == nil {
				return &data, nil
			}
			logger.Warn(ctx, "corrupt cached test data dropped", zap.String("key", key))
		}
	}

	data, err := s.fetch(ctx, problemSlug, languageTag)
	if err != nil || data == nil {
		return data, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(ctx, key, string(raw), s.ttl); err != nil {
				logger.Warn(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return data, nil
}

func (s *Store) fetch(ctx context.Context, problemSlug, languageTag string) (*Data, error) {
	var (
		problemID   int64
		dataPackKey sql.NullString
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, data_pack_key
		FROM problems_problem
		WHERE slug = ? AND is_active = 1`, problemSlug).Scan(&problemID, &dataPackKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem %s failed", problemSlug)
	}

	var languageID int64
	err = s.db.QueryRow(ctx, `
		SELECT id
		FROM problems_language
		WHERE slug = ?`, languageTag).Scan(&languageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load language %s failed", languageTag)
	}

	data := &Data{}
	if dataPackKey.Valid && dataPackKey.String != "" && s.packs != nil {
		data.TestCases, err = s.loadPack(ctx, dataPackKey.String)
		if err != nil {
			return nil, err
		}
	} else {
		data.TestCases, err = s.loadRows(ctx, problemID)
		if err != nil {
			return nil, err
		}
	}

	data.Wrapper, err = s.loadWrapper(ctx, problemID, languageID)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) loadRows(ctx context.Context, problemID int64) ([]stream.TestCase, error) {
	rows, err := s.db.Query(ctx, `
		SELECT input_txt, output_txt, is_sample
		FROM problems_testcase
		WHERE problem_id = ?
		ORDER BY is_sample DESC, id`, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load test cases for problem %d failed", problemID)
	}
	defer rows.Close()

	var tests []stream.TestCase
	for rows.Next() {
		var tc stream.TestCase
		if err := rows.Scan(&tc.Input, &tc.Expected, &tc.IsSample); err != nil {
			return nil, appErr.Wrap(err, appErr.TestCaseInvalid)
		}
		tests = append(tests, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return tests, nil
}

func (s *Store) loadWrapper(ctx context.Context, problemID, languageID int64) (*wrapper.Wrapper, error) {
	var w wrapper.Wrapper
	err := s.db.QueryRow(ctx, `
		SELECT top_code, bottom_code
		FROM problems_executiontestcase
		WHERE problem_id = ? AND language_id = ?`, problemID, languageID).Scan(&w.Top, &w.Bottom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load wrapper for problem %d failed", problemID)
	}
	return &w, nil
}

func (s *Store) loadPack(ctx context.Context, key string) ([]stream.TestCase, error) {
	raw, err := s.packs.GetObject(ctx, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ObjectNotFound, "fetch data pack %s failed", key)
	}
	tests, err := DecodePack(raw)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DataPackInvalid, "decode data pack %s failed", key)
	}
	return tests, nil
}

func cacheKey(problemSlug, languageTag string) string {
	return fmt.Sprintf("judge:testdata:%s:%s", problemSlug, languageTag)
}
