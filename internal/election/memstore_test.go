package election

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/univote/backend/internal/models"
)

// memStore is an in-memory Store with the same constraints as the PostgreSQL schema:
// unique (voter, post) votes, unique post names, non-negative counters and cascading deletes.
type memStore struct {
	mu          sync.Mutex
	announced   bool
	updatedAt   time.Time
	posts       map[uuid.UUID]models.Post
	contestants map[uuid.UUID]*models.Contestant
	votes       []models.Vote
	adjustments []models.TallyAdjustment
	voters      int64
	clock       time.Time

	// fail, when set, is returned by every call.
	fail error
	// recordVoteHook runs inside RecordVote before the uniqueness check, without the lock held.
	recordVoteHook func()
	// listContestantsHook runs after ListContestants has read its rows, without the lock held.
	listContestantsHook func()
	calls          map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		posts:       make(map[uuid.UUID]models.Post),
		contestants: make(map[uuid.UUID]*models.Contestant),
		clock:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		calls:       make(map[string]int),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) enter(op string) error {
	m.mu.Lock()
	m.calls[op]++
	if m.fail != nil {
		m.mu.Unlock()
		return m.fail
	}
	return nil
}

func (m *memStore) callCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) Status(context.Context) (models.ElectionStatus, error) {
	if err := m.enter("Status"); err != nil {
		return models.ElectionStatus{}, err
	}
	defer m.mu.Unlock()
	return models.ElectionStatus{ResultsAnnounced: m.announced, UpdatedAt: m.updatedAt}, nil
}

func (m *memStore) SetResultsAnnounced(_ context.Context, announced bool) (bool, error) {
	if err := m.enter("SetResultsAnnounced"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	if m.announced == announced {
		return false, nil
	}
	m.announced = announced
	m.updatedAt = m.tick()
	return true, nil
}

func (m *memStore) CreatePost(_ context.Context, p *models.Post) error {
	if err := m.enter("CreatePost"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	for _, existing := range m.posts {
		if existing.Name == p.Name {
			return ErrPostExists
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = m.tick()
	m.posts[p.ID] = *p
	return nil
}

func (m *memStore) GetPost(_ context.Context, id uuid.UUID) (*models.Post, error) {
	if err := m.enter("GetPost"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	return &p, nil
}

func (m *memStore) ListPosts(context.Context) ([]models.Post, error) {
	if err := m.enter("ListPosts"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var list []models.Post
	for _, p := range m.posts {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (m *memStore) DeletePost(_ context.Context, id uuid.UUID) ([]models.Contestant, error) {
	if err := m.enter("DeletePost"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	if _, ok := m.posts[id]; !ok {
		return nil, ErrPostNotFound
	}
	var removed []models.Contestant
	for cid, c := range m.contestants {
		if c.PostID == id {
			removed = append(removed, *c)
			delete(m.contestants, cid)
			m.orphanAdjustments(cid)
		}
	}
	kept := m.votes[:0]
	for _, v := range m.votes {
		if v.PostID != id {
			kept = append(kept, v)
		}
	}
	m.votes = kept
	delete(m.posts, id)
	return removed, nil
}

func (m *memStore) CreateContestant(_ context.Context, c *models.Contestant) error {
	if err := m.enter("CreateContestant"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.posts[c.PostID]; !ok {
		return ErrPostNotFound
	}
	c.ID = uuid.New()
	c.Votes = 0
	c.CreatedAt = m.tick()
	cp := *c
	m.contestants[c.ID] = &cp
	return nil
}

func (m *memStore) GetContestant(_ context.Context, id uuid.UUID) (*models.Contestant, error) {
	if err := m.enter("GetContestant"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	c, ok := m.contestants[id]
	if !ok {
		return nil, ErrContestantNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListContestants(_ context.Context, postID *uuid.UUID) ([]models.Contestant, error) {
	if err := m.enter("ListContestants"); err != nil {
		return nil, err
	}
	var list []models.Contestant
	for _, c := range m.contestants {
		if postID == nil || c.PostID == *postID {
			list = append(list, *c)
		}
	}
	hook := m.listContestantsHook
	m.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	if hook != nil {
		hook()
	}
	return list, nil
}

func (m *memStore) DeleteContestant(_ context.Context, id uuid.UUID) (*models.Contestant, error) {
	if err := m.enter("DeleteContestant"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	c, ok := m.contestants[id]
	if !ok {
		return nil, ErrContestantNotFound
	}
	delete(m.contestants, id)
	m.orphanAdjustments(id)
	kept := m.votes[:0]
	for _, v := range m.votes {
		if v.ContestantID != id {
			kept = append(kept, v)
		}
	}
	m.votes = kept
	return c, nil
}

func (m *memStore) HasVoted(_ context.Context, voterID, postID uuid.UUID) (bool, error) {
	if err := m.enter("HasVoted"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	for _, v := range m.votes {
		if v.VoterID == voterID && v.PostID == postID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RecordVote(_ context.Context, voterID, contestantID uuid.UUID) (*models.Vote, error) {
	if err := m.enter("RecordVote"); err != nil {
		return nil, err
	}
	hook := m.recordVoteHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.announced {
		return nil, ErrElectionClosed
	}
	c, ok := m.contestants[contestantID]
	if !ok {
		return nil, ErrContestantNotFound
	}
	for _, v := range m.votes {
		if v.VoterID == voterID && v.PostID == c.PostID {
			return nil, ErrDuplicateVote
		}
	}
	v := models.Vote{ID: uuid.New(), VoterID: voterID, ContestantID: contestantID, PostID: c.PostID, CastAt: m.tick()}
	m.votes = append(m.votes, v)
	c.Votes++
	return &v, nil
}

func (m *memStore) VotedPosts(_ context.Context, voterID uuid.UUID) ([]uuid.UUID, error) {
	if err := m.enter("VotedPosts"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, v := range m.votes {
		if v.VoterID == voterID {
			ids = append(ids, v.PostID)
		}
	}
	return ids, nil
}

func (m *memStore) ListVotes(_ context.Context, f VoteFilter) ([]models.VoteRecord, error) {
	if err := m.enter("ListVotes"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var list []models.VoteRecord
	for i := len(m.votes) - 1; i >= 0 && len(list) < f.Limit; i-- {
		v := m.votes[i]
		if (f.PostID != nil && v.PostID != *f.PostID) ||
			(f.ContestantID != nil && v.ContestantID != *f.ContestantID) ||
			(f.VoterID != nil && v.VoterID != *f.VoterID) {
			continue
		}
		rec := models.VoteRecord{Vote: v, PostName: m.posts[v.PostID].Name}
		if c, ok := m.contestants[v.ContestantID]; ok {
			rec.ContestantName = c.Name
		}
		list = append(list, rec)
	}
	return list, nil
}

func (m *memStore) AdjustVotes(_ context.Context, adj *models.TallyAdjustment) error {
	if err := m.enter("AdjustVotes"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	c, ok := m.contestants[adj.ContestantID]
	if !ok {
		return ErrContestantNotFound
	}
	adj.VotesBefore, adj.ContestantName = c.Votes, c.Name
	c.Votes += adj.Delta
	if c.Votes < 0 {
		c.Votes = 0
	}
	adj.VotesAfter = c.Votes
	m.audit(adj)
	return nil
}

func (m *memStore) SetVotes(_ context.Context, adj *models.TallyAdjustment) (bool, error) {
	if err := m.enter("SetVotes"); err != nil {
		return false, err
	}
	defer m.mu.Unlock()
	c, ok := m.contestants[adj.ContestantID]
	if !ok {
		return false, ErrContestantNotFound
	}
	adj.VotesBefore, adj.VotesAfter, adj.ContestantName = c.Votes, c.Votes, c.Name
	if c.Votes == adj.Requested {
		return false, nil
	}
	adj.Delta = adj.Requested - c.Votes
	c.Votes = adj.Requested
	adj.VotesAfter = c.Votes
	m.audit(adj)
	return true, nil
}

// orphanAdjustments mirrors ON DELETE SET NULL on tally_adjustments.contestant_id.
func (m *memStore) orphanAdjustments(contestantID uuid.UUID) {
	for i := range m.adjustments {
		if m.adjustments[i].ContestantID == contestantID {
			m.adjustments[i].ContestantID = uuid.Nil
		}
	}
}

func (m *memStore) audit(adj *models.TallyAdjustment) {
	adj.ID = uuid.New()
	adj.CreatedAt = m.tick()
	m.adjustments = append(m.adjustments, *adj)
}

func (m *memStore) ResetAll(_ context.Context, adminID uuid.UUID) (int64, error) {
	if err := m.enter("ResetAll"); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.contestants {
		if c.Votes != 0 {
			m.audit(&models.TallyAdjustment{
				ContestantID: c.ID, ContestantName: c.Name, AdminID: adminID, Kind: models.AdjustmentReset,
				Delta: -c.Votes, VotesBefore: c.Votes,
			})
			c.Votes = 0
			n++
		}
	}
	m.votes = nil
	return n, nil
}

func (m *memStore) ListAdjustments(_ context.Context, limit int) ([]models.TallyAdjustment, error) {
	if err := m.enter("ListAdjustments"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var list []models.TallyAdjustment
	for i := len(m.adjustments) - 1; i >= 0 && len(list) < limit; i-- {
		list = append(list, m.adjustments[i])
	}
	return list, nil
}

func (m *memStore) Stats(context.Context) (*models.ElectionStats, error) {
	if err := m.enter("Stats"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	s := &models.ElectionStats{
		LedgerVotes:      int64(len(m.votes)),
		TotalContestants: int64(len(m.contestants)),
		TotalPosts:       int64(len(m.posts)),
		TotalVoters:      m.voters,
	}
	for _, c := range m.contestants {
		s.TotalVotes += c.Votes
	}
	return s, nil
}

func (m *memStore) PostTallies(context.Context) ([]models.PostTally, error) {
	if err := m.enter("PostTallies"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	var list []models.PostTally
	for _, p := range m.posts {
		t := models.PostTally{PostID: p.ID, PostName: p.Name}
		for _, v := range m.votes {
			if v.PostID == p.ID {
				t.LedgerVotes++
			}
		}
		for _, c := range m.contestants {
			if c.PostID == p.ID {
				t.CounterVotes += c.Votes
			}
		}
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].PostName < list[j].PostName })
	return list, nil
}

// counter returns a contestant's current counter.
func (m *memStore) counter(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contestants[id]; ok {
		return c.Votes
	}
	return -1
}

func (m *memStore) ledgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.votes)
}

// event is one published notification.
type event struct {
	Topic   string
	Event   string
	Payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingNotifier) Publish(topic, ev string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Topic: topic, Event: ev, Payload: payload})
}

func (r *recordingNotifier) count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == ev {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
