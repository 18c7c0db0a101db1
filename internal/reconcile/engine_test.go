package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"listing_sync/internal/domain"
	"listing_sync/internal/retry"
	"listing_sync/internal/testutil"
)

type memoryListingStore struct {
	mu          sync.Mutex
	rows        map[string]domain.StoreRow
	failInsert  map[string]int // external id -> remaining failures, -1 forever
	failLookups int
	vanish      map[string]bool // external id deleted right before its update
	inserts     int
	updates     int
}

func newMemoryListingStore() *memoryListingStore {
	return &memoryListingStore{
		rows:       make(map[string]domain.StoreRow),
		failInsert: make(map[string]int),
		vanish:     make(map[string]bool),
	}
}

func key(accountID, externalID string) string {
	return accountID + "|" + externalID
}

func (m *memoryListingStore) ExistingExternalIDs(_ context.Context, accountID string, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLookups > 0 && len(ids) > 1 {
		m.failLookups--
		return nil, errors.New("connection reset")
	}

	found := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := m.rows[key(accountID, id)]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (m *memoryListingStore) Insert(_ context.Context, row *domain.StoreRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.failInsert[row.ExternalID]; ok && n != 0 {
		if n > 0 {
			m.failInsert[row.ExternalID] = n - 1
		}
		return errors.New("deadlock detected")
	}

	m.inserts++
	m.rows[key(row.AccountID, row.ExternalID)] = *row
	return nil
}

func (m *memoryListingStore) Update(_ context.Context, row *domain.StoreRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(row.AccountID, row.ExternalID)
	if m.vanish[row.ExternalID] {
		delete(m.rows, k)
	}
	prev, ok := m.rows[k]
	if !ok {
		return domain.ErrListingNotFound
	}

	m.updates++
	next := *row
	next.FirstSyncedAt = prev.FirstSyncedAt
	next.CostAmount = prev.CostAmount
	m.rows[k] = next
	return nil
}

func (m *memoryListingStore) get(accountID, externalID string) (domain.StoreRow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[key(accountID, externalID)]
	return row, ok
}

type memoryCategoryStore struct {
	categories map[string]string
	fail       bool
}

func (m *memoryCategoryStore) UpsertBatch(_ context.Context, categories []domain.Category) error {
	if m.fail {
		return errors.New("categories unavailable")
	}
	for _, c := range categories {
		if c.Name == "" && m.categories[c.ID] != "" {
			continue
		}
		m.categories[c.ID] = c.Name
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingRecorder struct {
	mu     sync.Mutex
	events []domain.FailureEvent
}

func (r *recordingRecorder) RecordFailure(_ context.Context, ev domain.FailureEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type EngineTestSuite struct {
	suite.Suite
	ctx        context.Context
	listings   *memoryListingStore
	categories *memoryCategoryStore
	recorder   *recordingRecorder
	engine     *Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.listings = newMemoryListingStore()
	s.categories = &memoryCategoryStore{categories: make(map[string]string)}
	s.recorder = &recordingRecorder{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.engine = NewEngine(s.listings, s.categories, passthroughTx{}, s.recorder, logger, Config{
		Provider:    "ebay",
		WritePolicy: retry.Policy{MaxAttempts: 3},
	})
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func listing(id string, status domain.Status, title string) domain.Listing {
	return domain.Listing{
		ExternalID:    id,
		Status:        status,
		Title:         title,
		PriceAmount:   testutil.Ptr(10.0),
		PriceCurrency: testutil.Ptr("USD"),
	}
}

func (s *EngineTestSuite) TestReconcile_DuplicateInBatchLastWins() {
	batch := []domain.Listing{
		listing("1", domain.NormalizeStatus("Active"), "first"),
		listing("2", domain.NormalizeStatus(""), "second"),
		listing("1", domain.NormalizeStatus("Ended"), "first again"),
	}

	result, err := s.engine.Reconcile(s.ctx, "acc-1", batch)

	s.Require().NoError(err)
	s.Equal(2, result.Inserted)
	s.Equal(0, result.Updated)
	s.Equal(0, result.Failed)

	row, ok := s.listings.get("acc-1", "1")
	s.Require().True(ok)
	s.Equal(domain.StatusEnded, row.Status)
	s.Equal("first again", row.Title)

	row, ok = s.listings.get("acc-1", "2")
	s.Require().True(ok)
	s.Equal(domain.StatusUnknown, row.Status)
}

func (s *EngineTestSuite) TestReconcile_SecondRunUpdatesOnly() {
	batch := []domain.Listing{
		listing("1", domain.StatusActive, "a"),
		listing("2", domain.StatusActive, "b"),
	}

	first, err := s.engine.Reconcile(s.ctx, "acc-1", batch)
	s.Require().NoError(err)
	s.Equal(2, first.Inserted)

	second, err := s.engine.Reconcile(s.ctx, "acc-1", batch)
	s.Require().NoError(err)
	s.Equal(0, second.Inserted)
	s.Equal(2, second.Updated)
	s.Len(s.listings.rows, 2)
}

func (s *EngineTestSuite) TestReconcile_SameExternalIDOtherAccountIsSeparate() {
	_, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusActive, "a")})
	s.Require().NoError(err)

	result, err := s.engine.Reconcile(s.ctx, "acc-2", []domain.Listing{listing("1", domain.StatusActive, "a")})
	s.Require().NoError(err)

	s.Equal(1, result.Inserted)
	s.Len(s.listings.rows, 2)
}

func (s *EngineTestSuite) TestReconcile_UpdateKeepsForeignOwnedColumns() {
	_, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusActive, "a")})
	s.Require().NoError(err)

	row := s.listings.rows[key("acc-1", "1")]
	row.CostAmount = testutil.Ptr(3.5)
	s.listings.rows[key("acc-1", "1")] = row

	_, err = s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusSold, "a")})
	s.Require().NoError(err)

	got, _ := s.listings.get("acc-1", "1")
	s.Equal(domain.StatusSold, got.Status)
	s.Require().NotNil(got.CostAmount)
	s.InDelta(3.5, *got.CostAmount, 0.001)
}

func (s *EngineTestSuite) TestReconcile_FailingRowDoesNotStopBatch() {
	s.listings.failInsert["2"] = -1
	batch := []domain.Listing{
		listing("1", domain.StatusActive, "a"),
		listing("2", domain.StatusActive, "b"),
		listing("3", domain.StatusActive, "c"),
		listing("1", domain.StatusEnded, "a2"),
	}

	result, err := s.engine.Reconcile(s.ctx, "acc-1", batch)

	s.Require().NoError(err)
	s.Equal(1, result.Failed)
	s.Equal(2, result.Inserted+result.Updated)
	s.Require().Len(result.Failures, 1)

	ev := result.Failures[0]
	s.Equal(domain.CodeWriteFailed, ev.ErrorCode)
	s.Equal(domain.CategoryStorage, ev.Category)
	s.Equal("2", ev.ExternalID)
	s.Equal("acc-1", ev.AccountID)
	s.Equal("ebay", ev.Provider)

	s.Require().Len(s.recorder.events, 1)
	s.Equal(ev.ErrorCode, s.recorder.events[0].ErrorCode)

	_, ok := s.listings.get("acc-1", "3")
	s.True(ok)
}

func (s *EngineTestSuite) TestReconcile_TransientWriteErrorRetried() {
	s.listings.failInsert["1"] = 2

	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusActive, "a")})

	s.Require().NoError(err)
	s.Equal(1, result.Inserted)
	s.Equal(0, result.Failed)
	s.Empty(s.recorder.events)
}

func (s *EngineTestSuite) TestReconcile_BatchLookupFailureFallsBackPerRow() {
	_, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusActive, "a")})
	s.Require().NoError(err)

	s.listings.failLookups = 3
	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{
		listing("1", domain.StatusEnded, "a"),
		listing("2", domain.StatusActive, "b"),
	})

	s.Require().NoError(err)
	s.Equal(1, result.Updated)
	s.Equal(1, result.Inserted)
	s.Equal(0, result.Failed)
}

func (s *EngineTestSuite) TestReconcile_UpsertsCategoryWithListing() {
	l := listing("1", domain.StatusActive, "lens")
	l.CategoryID = "3323"
	l.CategoryName = "Lenses"

	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{l})

	s.Require().NoError(err)
	s.Equal(1, result.Inserted)
	s.Equal("Lenses", s.categories.categories["3323"])

	row, _ := s.listings.get("acc-1", "1")
	s.Require().NotNil(row.CategoryID)
	s.Equal("3323", *row.CategoryID)
}

func (s *EngineTestSuite) TestReconcile_CategoryFailureFailsOnlyThatRow() {
	s.categories.fail = true
	withCategory := listing("1", domain.StatusActive, "lens")
	withCategory.CategoryID = "3323"

	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{
		withCategory,
		listing("2", domain.StatusActive, "no category"),
	})

	s.Require().NoError(err)
	s.Equal(1, result.Failed)
	s.Equal(1, result.Inserted)
	_, ok := s.listings.get("acc-1", "1")
	s.False(ok)
}

func (s *EngineTestSuite) TestReconcile_ListingWithoutExternalID() {
	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{
		listing("  ", domain.StatusActive, "blank"),
		listing("1", domain.StatusActive, "ok"),
	})

	s.Require().NoError(err)
	s.Equal(1, result.Inserted)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Failures, 1)
	s.Equal(domain.CodeInvalidListing, result.Failures[0].ErrorCode)
	s.Equal(domain.CategoryInput, result.Failures[0].Category)
	s.False(result.Failures[0].Retryable)
}

func (s *EngineTestSuite) TestReconcile_ListingWithoutExternalIDKeepsSiblings() {
	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{
		listing("1", domain.StatusActive, "first"),
		listing("", domain.StatusActive, "no id"),
		listing("3", domain.StatusEnded, "third"),
	})

	s.Require().NoError(err)
	s.Equal(2, result.Inserted)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Failures, 1)
	s.Equal(domain.CodeInvalidListing, result.Failures[0].ErrorCode)
	s.Len(s.recorder.events, 1)

	_, ok := s.listings.get("acc-1", "1")
	s.True(ok)
	_, ok = s.listings.get("acc-1", "3")
	s.True(ok)
}

func (s *EngineTestSuite) TestReconcile_RowDeletedAfterLookupIsInserted() {
	_, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusActive, "a")})
	s.Require().NoError(err)
	s.listings.vanish["1"] = true

	result, err := s.engine.Reconcile(s.ctx, "acc-1", []domain.Listing{listing("1", domain.StatusSold, "a")})

	s.Require().NoError(err)
	s.Equal(1, result.Inserted)
	s.Zero(result.Updated)
	s.Zero(result.Failed)
	s.Zero(s.listings.updates)
	row, ok := s.listings.get("acc-1", "1")
	s.Require().True(ok)
	s.Equal(domain.StatusSold, row.Status)
}

func (s *EngineTestSuite) TestReconcile_MissingAccountID() {
	result, err := s.engine.Reconcile(s.ctx, " ", []domain.Listing{listing("1", domain.StatusActive, "a")})

	s.ErrorIs(err, domain.ErrMissingAccountID)
	s.Nil(result)
	s.Empty(s.listings.rows)
}

func (s *EngineTestSuite) TestReconcile_EmptyBatch() {
	result, err := s.engine.Reconcile(s.ctx, "acc-1", nil)

	s.Require().NoError(err)
	s.Equal(domain.ReconcileResult{}, *result)
}

func (s *EngineTestSuite) TestReconcile_CanceledContextFinishesBatch() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	result, err := s.engine.Reconcile(ctx, "acc-1", []domain.Listing{
		listing("1", domain.StatusActive, "a"),
		listing("2", domain.StatusActive, "b"),
	})

	s.Require().NoError(err)
	s.Equal(2, result.Inserted)
}

func TestDedupe(t *testing.T) {
	batch, invalid := dedupe([]domain.Listing{
		{ExternalID: "a", Title: "1"},
		{ExternalID: "b", Title: "2"},
		{ExternalID: ""},
		{ExternalID: "a", Title: "3"},
		{ExternalID: " b ", Title: "4"},
	})

	if len(invalid) != 1 {
		t.Fatalf("invalid = %d, want 1", len(invalid))
	}
	if len(batch) != 2 {
		t.Fatalf("batch = %d, want 2", len(batch))
	}
	if batch[0].ExternalID != "a" || batch[0].Title != "3" {
		t.Errorf("batch[0] = %+v, want a/3", batch[0])
	}
	if batch[1].ExternalID != "b" || batch[1].Title != "4" {
		t.Errorf("batch[1] = %+v, want b/4", batch[1])
	}
}
