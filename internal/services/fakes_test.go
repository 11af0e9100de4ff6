package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/escrowfsm"
	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/models"
	"github.com/fundsafe/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errStorageDown = errors.New("storage down")

// memEscrowStore serializes Mutate calls the way a row lock would and only
// keeps the mutated copy when fn succeeds.
type memEscrowStore struct {
	mu        sync.Mutex
	escrows   map[string]*models.Escrow
	logs      []models.EscrowLog
	failWrite bool
}

func newMemEscrowStore() *memEscrowStore {
	return &memEscrowStore{escrows: make(map[string]*models.Escrow)}
}

func (s *memEscrowStore) Create(_ context.Context, e *models.Escrow, logs []models.EscrowLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.EscrowID]; ok {
		return repositories.ErrConflict
	}
	if s.failWrite {
		return errStorageDown
	}
	e.ID = uuid.New()
	e.Version = 1
	s.escrows[e.EscrowID] = e.Clone()
	s.appendLocked(logs...)
	return nil
}

func (s *memEscrowStore) GetByEscrowID(_ context.Context, escrowID string) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[escrowID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *memEscrowStore) ListByParty(_ context.Context, userID string, limit, offset int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Escrow
	for _, e := range s.escrows {
		if e.IsParty(userID) {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscrowID < out[j].EscrowID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEscrowStore) ListUnderCompliance(_ context.Context, limit int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Escrow
	for _, e := range s.escrows {
		if e.ComplianceReference != "" && !models.IsTerminalStatus(e.Status) {
			out = append(out, *e.Clone())
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memEscrowStore) Mutate(_ context.Context, escrowID string, fn func(e *models.Escrow) ([]models.EscrowLog, error)) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.escrows[escrowID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cur := stored.Clone()
	logs, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if s.failWrite {
		return nil, errStorageDown
	}
	cur.Version++
	s.escrows[escrowID] = cur
	s.appendLocked(logs...)
	return cur.Clone(), nil
}

func (s *memEscrowStore) AppendLog(_ context.Context, entry models.EscrowLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return errStorageDown
	}
	s.appendLocked(entry)
	return nil
}

func (s *memEscrowStore) appendLocked(entries ...models.EscrowLog) {
	for _, l := range entries {
		l.ID = uuid.New()
		s.logs = append(s.logs, l)
	}
}

func (s *memEscrowStore) ListLogs(_ context.Context, escrowID string) ([]models.EscrowLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowLog
	for _, l := range s.logs {
		if l.EscrowID == escrowID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memEscrowStore) setFailWrite(v bool) {
	s.mu.Lock()
	s.failWrite = v
	s.mu.Unlock()
}

type memTacStore struct {
	mu    sync.Mutex
	codes []*models.TacCode
}

func (s *memTacStore) Create(_ context.Context, t *models.TacCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if !c.IsUsed && c.UserID == t.UserID && c.Purpose == t.Purpose && c.Code == t.Code {
			return repositories.ErrConflict
		}
	}
	t.ID = uuid.New()
	cp := *t
	s.codes = append(s.codes, &cp)
	return nil
}

func (s *memTacStore) CodeInUse(_ context.Context, userID, purpose, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.UserID == userID && c.Purpose == purpose && c.Code == code && c.IsValidAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memTacStore) Find(_ context.Context, userID, purpose, code string) (*models.TacCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.TacCode
	for _, c := range s.codes {
		if c.UserID != userID || c.Purpose != purpose || c.Code != code {
			continue
		}
		if best == nil || (best.IsUsed && !c.IsUsed) || (best.IsUsed == c.IsUsed && c.CreatedAt.After(best.CreatedAt)) {
			best = c
		}
	}
	if best == nil {
		return nil, repositories.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *memTacStore) HasActive(_ context.Context, userID, purpose string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.UserID == userID && c.Purpose == purpose && c.IsValidAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memTacStore) MarkUsed(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.codes {
		if c.ID == id {
			if !c.IsValidAt(now) {
				return false, nil
			}
			c.IsUsed = true
			return true, nil
		}
	}
	return false, nil
}

type fakeCompliance struct {
	mu        sync.Mutex
	submitErr error
	submitted []ComplianceRequest
	status    string
	statusErr error
	statusN   int
	tacResult *ComplianceTACResult
	tacErr    error
	approved  string // only code the officer accepts, when set
	tacChecks []string
}

func (f *fakeCompliance) SubmitRequest(_ context.Context, req ComplianceRequest) (*ComplianceSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &ComplianceSubmission{Reference: "CMP-" + req.AppObjectRef, RequiresAction: true}, nil
}

func (f *fakeCompliance) VerifyTAC(_ context.Context, reference, code string) (*ComplianceTACResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tacChecks = append(f.tacChecks, reference+":"+code)
	if f.tacErr != nil {
		return nil, f.tacErr
	}
	if f.approved != "" {
		return &ComplianceTACResult{Success: true, Valid: code == f.approved}, nil
	}
	if f.tacResult == nil {
		return &ComplianceTACResult{Success: true, Valid: false}, nil
	}
	return f.tacResult, nil
}

func (f *fakeCompliance) GetStatus(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusN++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.status, nil
}

func (f *fakeCompliance) set(fn func(f *fakeCompliance)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (s *ComplianceService) trackedReferences() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastSynced)
}

type memStatusCache struct {
	mu      sync.Mutex
	values  map[string]string
	failGet bool
}

func (c *memStatusCache) Get(_ context.Context, reference string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return "", false, errStorageDown
	}
	v, ok := c.values[reference]
	return v, ok, nil
}

func (c *memStatusCache) Set(_ context.Context, reference, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[reference] = status
	return nil
}

func (c *memStatusCache) evict(reference string) {
	c.mu.Lock()
	delete(c.values, reference)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type sentMessage struct {
	to       string
	template string
	data     map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, to, template string, data map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return false
	}
	n.sent = append(n.sent, sentMessage{to: to, template: template, data: data})
	return true
}

func (n *recordingNotifier) lastTo(to, template string) (sentMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].to == to && n.sent[i].template == template {
			return n.sent[i], true
		}
	}
	return sentMessage{}, false
}

var (
	testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	alice     = models.Actor{ID: "user-alice", DisplayName: "Alice", Role: models.ActorRoleUser, IP: "203.0.113.7"}
	bob       = models.Actor{ID: "user-bob", DisplayName: "Bob", Role: models.ActorRoleUser}
	mallory   = models.Actor{ID: "user-mallory", DisplayName: "Mallory", Role: models.ActorRoleUser}
	operator  = models.Actor{ID: "user-ops", DisplayName: "Ops", Role: models.ActorRoleAdmin}
)

type harness struct {
	escrows    *EscrowService
	compliance *ComplianceService
	tacs       *TacService
	store      *memEscrowStore
	tacStore   *memTacStore
	client     *fakeCompliance
	cache      *memStatusCache
	publisher  *recordingPublisher
	notifier   *recordingNotifier
	clock      *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemEscrowStore(),
		tacStore:  &memTacStore{},
		client:    &fakeCompliance{status: "pending_review"},
		cache:     &memStatusCache{},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		clock:     clock.Fake(testStart),
	}
	log := zap.NewNop()
	h.tacs = NewTacService(h.tacStore, h.notifier, h.clock, 24*time.Hour, log)
	h.compliance = NewComplianceService(h.store, h.client, h.tacs, h.cache, h.publisher, h.clock, 30*time.Second, log)
	h.escrows = NewEscrowService(h.store, h.compliance, escrowfsm.DefaultPolicy(), h.publisher, h.notifier, h.clock, log)
	return h
}

func (h *harness) logActions(t *testing.T, escrowID string) []string {
	t.Helper()
	logs, err := h.store.ListLogs(context.Background(), escrowID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logActions(logs)
}
