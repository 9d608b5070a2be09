package election

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/univote/backend/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	contestantColumns = `id, name, post_id, COALESCE(image,''), COALESCE(image_key,''), COALESCE(bio,''), votes, created_at`
)

var _ Store = (*Repository)(nil)

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an election repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func scanContestant(row pgx.Row) (*models.Contestant, error) {
	var c models.Contestant
	if err := row.Scan(&c.ID, &c.Name, &c.PostID, &c.Image, &c.ImageKey, &c.Bio, &c.Votes, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectContestants(rows pgx.Rows) ([]models.Contestant, error) {
	defer rows.Close()
	var list []models.Contestant
	for rows.Next() {
		c, err := scanContestant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Status returns the singleton election status row.
func (r *Repository) Status(ctx context.Context) (models.ElectionStatus, error) {
	const q = `SELECT results_announced, updated_at FROM election_status WHERE id = 1`
	var st models.ElectionStatus
	err := r.pool.QueryRow(ctx, q).Scan(&st.ResultsAnnounced, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, errors.New("election_status row missing; run migrations")
	}
	return st, err
}

// SetResultsAnnounced flips the flag only when it differs.
func (r *Repository) SetResultsAnnounced(ctx context.Context, announced bool) (bool, error) {
	const q = `UPDATE election_status SET results_announced = $1, updated_at = NOW()
		WHERE id = 1 AND results_announced <> $1`
	tag, err := r.pool.Exec(ctx, q, announced)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreatePost inserts a post.
func (r *Repository) CreatePost(ctx context.Context, p *models.Post) error {
	const q = `INSERT INTO posts (name, description) VALUES ($1, NULLIF($2,''))
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, p.Name, p.Description).Scan(&p.ID, &p.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return ErrPostExists
	}
	return err
}

// GetPost returns a post by ID.
func (r *Repository) GetPost(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	const q = `SELECT id, name, COALESCE(description,''), created_at FROM posts WHERE id = $1`
	var p models.Post
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns posts ordered by name.
func (r *Repository) ListPosts(ctx context.Context) ([]models.Post, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(description,''), created_at FROM posts ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DeletePost deletes a post; contestants and votes go with it through ON DELETE CASCADE.
func (r *Repository) DeletePost(ctx context.Context, id uuid.UUID) ([]models.Contestant, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+contestantColumns+` FROM contestants WHERE post_id = $1`, id)
	if err != nil {
		return nil, err
	}
	removed, err := collectContestants(rows)
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrPostNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return removed, nil
}

// CreateContestant inserts a contestant with zero votes.
func (r *Repository) CreateContestant(ctx context.Context, c *models.Contestant) error {
	const q = `INSERT INTO contestants (name, post_id, image, image_key, bio, votes)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), 0)
		RETURNING id, votes, created_at`
	err := r.pool.QueryRow(ctx, q, c.Name, c.PostID, c.Image, c.ImageKey, c.Bio).Scan(&c.ID, &c.Votes, &c.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return ErrPostNotFound
	}
	return err
}

// GetContestant returns a contestant by ID.
func (r *Repository) GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error) {
	c, err := scanContestant(r.pool.QueryRow(ctx, `SELECT `+contestantColumns+` FROM contestants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContestantNotFound
	}
	return c, err
}

// ListContestants returns contestants ordered by post then name, optionally for one post.
func (r *Repository) ListContestants(ctx context.Context, postID *uuid.UUID) ([]models.Contestant, error) {
	const q = `SELECT ` + contestantColumns + ` FROM contestants
		WHERE ($1::uuid IS NULL OR post_id = $1)
		ORDER BY post_id, name, id`
	rows, err := r.pool.Query(ctx, q, postID)
	if err != nil {
		return nil, err
	}
	return collectContestants(rows)
}

// DeleteContestant deletes a contestant and returns the removed row.
func (r *Repository) DeleteContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error) {
	c, err := scanContestant(r.pool.QueryRow(ctx, `DELETE FROM contestants WHERE id = $1 RETURNING `+contestantColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContestantNotFound
	}
	return c, err
}

// HasVoted reports whether a ledger row exists for (voter, post).
func (r *Repository) HasVoted(ctx context.Context, voterID, postID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM votes WHERE voter_id = $1 AND post_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, voterID, postID).Scan(&ok)
	return ok, err
}

// RecordVote runs the status gate, ledger insert and counter increment in one transaction.
// The status row is share-locked so Announce and ResetAll wait for in-flight votes.
func (r *Repository) RecordVote(ctx context.Context, voterID, contestantID uuid.UUID) (*models.Vote, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var announced bool
	if err := tx.QueryRow(ctx, `SELECT results_announced FROM election_status WHERE id = 1 FOR SHARE`).Scan(&announced); err != nil {
		return nil, fmt.Errorf("lock election status: %w", err)
	}
	if announced {
		return nil, ErrElectionClosed
	}

	v := &models.Vote{VoterID: voterID, ContestantID: contestantID}
	err = tx.QueryRow(ctx, `SELECT post_id FROM contestants WHERE id = $1`, contestantID).Scan(&v.PostID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrContestantNotFound
	}
	if err != nil {
		return nil, err
	}

	const insert = `INSERT INTO votes (voter_id, contestant_id, post_id) VALUES ($1, $2, $3)
		ON CONFLICT (voter_id, post_id) DO NOTHING
		RETURNING id, cast_at`
	err = tx.QueryRow(ctx, insert, voterID, contestantID, v.PostID).Scan(&v.ID, &v.CastAt)
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgUniqueViolation {
		return nil, ErrDuplicateVote
	}
	if pgCode(err) == pgForeignKeyViolation {
		return nil, ErrContestantNotFound
	}
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `UPDATE contestants SET votes = votes + 1 WHERE id = $1`, contestantID)
	if err != nil {
		return nil, fmt.Errorf("increment counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrContestantNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return v, nil
}

// VotedPosts returns the post IDs voterID has a ledger row for.
func (r *Repository) VotedPosts(ctx context.Context, voterID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT post_id FROM votes WHERE voter_id = $1 ORDER BY cast_at, post_id`, voterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListVotes returns enriched ledger rows, newest first.
func (r *Repository) ListVotes(ctx context.Context, f VoteFilter) ([]models.VoteRecord, error) {
	const q = `SELECT v.id, v.voter_id, v.contestant_id, v.post_id, v.cast_at,
			COALESCE(u.full_name,''), COALESCE(u.email,''), c.name, COALESCE(c.image,''), p.name
		FROM votes v
		JOIN contestants c ON c.id = v.contestant_id
		JOIN posts p ON p.id = v.post_id
		LEFT JOIN users u ON u.id = v.voter_id
		WHERE ($1::uuid IS NULL OR v.post_id = $1)
			AND ($2::uuid IS NULL OR v.contestant_id = $2)
			AND ($3::uuid IS NULL OR v.voter_id = $3)
		ORDER BY v.cast_at DESC, v.id
		LIMIT $4`
	rows, err := r.pool.Query(ctx, q, f.PostID, f.ContestantID, f.VoterID, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.VoteRecord
	for rows.Next() {
		var v models.VoteRecord
		if err := rows.Scan(&v.ID, &v.VoterID, &v.ContestantID, &v.PostID, &v.CastAt,
			&v.VoterName, &v.VoterEmail, &v.ContestantName, &v.ContestantImage, &v.PostName); err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// lockCounter row-locks the contestant and returns its counter, copying the name onto adj.
func lockCounter(ctx context.Context, tx pgx.Tx, adj *models.TallyAdjustment) (int64, error) {
	var votes int64
	err := tx.QueryRow(ctx, `SELECT votes, name FROM contestants WHERE id = $1 FOR UPDATE`, adj.ContestantID).
		Scan(&votes, &adj.ContestantName)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrContestantNotFound
	}
	return votes, err
}

func insertAdjustment(ctx context.Context, tx pgx.Tx, adj *models.TallyAdjustment) error {
	const q = `INSERT INTO tally_adjustments
		(contestant_id, contestant_name, admin_id, kind, delta, requested, votes_before, votes_after, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''))
		RETURNING id, created_at`
	return tx.QueryRow(ctx, q, adj.ContestantID, adj.ContestantName, adj.AdminID, string(adj.Kind), adj.Delta,
		adj.Requested, adj.VotesBefore, adj.VotesAfter, adj.Reason).Scan(&adj.ID, &adj.CreatedAt)
}

// AdjustVotes applies a clamped delta under a row lock and writes the audit row.
func (r *Repository) AdjustVotes(ctx context.Context, adj *models.TallyAdjustment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := lockCounter(ctx, tx, adj)
	if err != nil {
		return err
	}
	var after int64
	err = tx.QueryRow(ctx, `UPDATE contestants SET votes = GREATEST(0, votes + $2) WHERE id = $1 RETURNING votes`,
		adj.ContestantID, adj.Delta).Scan(&after)
	if err != nil {
		return err
	}
	adj.VotesBefore, adj.VotesAfter = before, after
	if err := insertAdjustment(ctx, tx, adj); err != nil {
		return fmt.Errorf("audit adjustment: %w", err)
	}
	return tx.Commit(ctx)
}

// SetVotes overwrites the counter unless it already equals adj.Requested.
func (r *Repository) SetVotes(ctx context.Context, adj *models.TallyAdjustment) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := lockCounter(ctx, tx, adj)
	if err != nil {
		return false, err
	}
	adj.VotesBefore, adj.VotesAfter = before, before
	if before == adj.Requested {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE contestants SET votes = $2 WHERE id = $1`, adj.ContestantID, adj.Requested); err != nil {
		return false, err
	}
	adj.VotesAfter = adj.Requested
	adj.Delta = adj.Requested - before
	if err := insertAdjustment(ctx, tx, adj); err != nil {
		return false, fmt.Errorf("audit adjustment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ResetAll clears the ledger and zeroes counters in one transaction. The status row lock
// excludes concurrent RecordVote transactions for the duration.
func (r *Repository) ResetAll(ctx context.Context, adminID uuid.UUID) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM election_status WHERE id = 1 FOR UPDATE`); err != nil {
		return 0, fmt.Errorf("lock election status: %w", err)
	}
	const audit = `INSERT INTO tally_adjustments
		(contestant_id, contestant_name, admin_id, kind, delta, votes_before, votes_after)
		SELECT id, name, $1, 'reset', -votes, votes, 0 FROM contestants WHERE votes <> 0`
	if _, err := tx.Exec(ctx, audit, adminID); err != nil {
		return 0, fmt.Errorf("audit reset: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM votes`); err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE contestants SET votes = 0 WHERE votes <> 0`)
	if err != nil {
		return 0, fmt.Errorf("zero counters: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListAdjustments returns override audit rows, newest first.
func (r *Repository) ListAdjustments(ctx context.Context, limit int) ([]models.TallyAdjustment, error) {
	const q = `SELECT id, contestant_id, contestant_name, admin_id, kind, delta, requested,
			votes_before, votes_after, COALESCE(reason,''), created_at
		FROM tally_adjustments ORDER BY created_at DESC, id LIMIT $1`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TallyAdjustment
	for rows.Next() {
		var a models.TallyAdjustment
		var kind string
		var contestantID *uuid.UUID
		if err := rows.Scan(&a.ID, &contestantID, &a.ContestantName, &a.AdminID, &kind, &a.Delta,
			&a.Requested, &a.VotesBefore, &a.VotesAfter, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		if contestantID != nil {
			a.ContestantID = *contestantID
		}
		a.Kind = models.AdjustmentKind(kind)
		list = append(list, a)
	}
	return list, rows.Err()
}

// Stats returns overview counters.
func (r *Repository) Stats(ctx context.Context) (*models.ElectionStats, error) {
	const q = `SELECT
		(SELECT COALESCE(SUM(votes),0)::BIGINT FROM contestants),
		(SELECT COUNT(*) FROM votes),
		(SELECT COUNT(*) FROM contestants),
		(SELECT COUNT(*) FROM posts),
		(SELECT COUNT(*) FROM users WHERE role = 'voter')`
	var s models.ElectionStats
	err := r.pool.QueryRow(ctx, q).Scan(&s.TotalVotes, &s.LedgerVotes, &s.TotalContestants, &s.TotalPosts, &s.TotalVoters)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PostTallies returns ledger count and counter sum per post.
func (r *Repository) PostTallies(ctx context.Context) ([]models.PostTally, error) {
	const q = `SELECT p.id, p.name,
			(SELECT COUNT(*) FROM votes v WHERE v.post_id = p.id),
			(SELECT COALESCE(SUM(c.votes),0)::BIGINT FROM contestants c WHERE c.post_id = p.id)
		FROM posts p ORDER BY p.name, p.id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PostTally
	for rows.Next() {
		var t models.PostTally
		if err := rows.Scan(&t.PostID, &t.PostName, &t.LedgerVotes, &t.CounterVotes); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
