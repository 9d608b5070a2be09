package election

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/univote/backend/internal/models"
)

// PostResult is the outcome of one post.
type PostResult struct {
	Post       models.Post         `json:"post"`
	Winner     *models.Contestant  `json:"winner,omitempty"`
	RunnersUp  []models.Contestant `json:"runners_up"`
	TotalVotes int64               `json:"total_votes"`
	// Tied is set when more than one contestant holds the top count.
	Tied bool `json:"tied"`
}

// rankLess orders contestants by votes descending, then earliest registration, then id.
// The order is total, so rankings never depend on input order.
func rankLess(a, b models.Contestant) bool {
	if a.Votes != b.Votes {
		return a.Votes > b.Votes
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// RankingFor returns the contestants of postID in rank order. The input is not modified.
func RankingFor(contestants []models.Contestant, postID uuid.UUID) []models.Contestant {
	ranked := make([]models.Contestant, 0, len(contestants))
	for _, c := range contestants {
		if c.PostID == postID {
			ranked = append(ranked, c)
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return rankLess(ranked[i], ranked[j]) })
	return ranked
}

// WinnerFor returns the top-ranked contestant of postID, or false when the post has none.
func WinnerFor(contestants []models.Contestant, postID uuid.UUID) (models.Contestant, bool) {
	ranked := RankingFor(contestants, postID)
	if len(ranked) == 0 {
		return models.Contestant{}, false
	}
	return ranked[0], true
}

// BuildBoard computes a PostResult for every post, ordered by post name.
func BuildBoard(posts []models.Post, contestants []models.Contestant) []PostResult {
	ordered := append([]models.Post(nil), posts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return bytes.Compare(ordered[i].ID[:], ordered[j].ID[:]) < 0
	})

	board := make([]PostResult, 0, len(ordered))
	for _, p := range ordered {
		ranked := RankingFor(contestants, p.ID)
		res := PostResult{Post: p, RunnersUp: []models.Contestant{}}
		for _, c := range ranked {
			res.TotalVotes += c.Votes
		}
		if len(ranked) > 0 {
			w := ranked[0]
			res.Winner = &w
			res.RunnersUp = ranked[1:]
			res.Tied = len(ranked) > 1 && ranked[1].Votes == w.Votes
		}
		board = append(board, res)
	}
	return board
}

// Winner returns the current leader of a post.
func (s *Service) Winner(ctx context.Context, postID uuid.UUID) (*models.Contestant, error) {
	ranked, err := s.Ranking(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

// Ranking returns every contestant of a post in rank order, read fresh from storage.
func (s *Service) Ranking(ctx context.Context, postID uuid.UUID) ([]models.Contestant, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, storageErr("get post", err)
	}
	list, err := s.store.ListContestants(ctx, &postID)
	if err != nil {
		return nil, storageErr("list contestants", err)
	}
	return RankingFor(list, postID), nil
}

// Board is the admin preview of current winners, available in every state.
func (s *Service) Board(ctx context.Context) ([]PostResult, error) {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		return nil, storageErr("list posts", err)
	}
	list, err := s.store.ListContestants(ctx, nil)
	if err != nil {
		return nil, storageErr("list contestants", err)
	}
	return BuildBoard(posts, list), nil
}

// PublicResults is the announced board. It fails with ErrResultsNotAnnounced while voting is live.
func (s *Service) PublicResults(ctx context.Context) ([]PostResult, error) {
	st, err := s.store.Status(ctx)
	if err != nil {
		return nil, storageErr("election status", err)
	}
	if !st.ResultsAnnounced {
		return nil, ErrResultsNotAnnounced
	}
	return s.Board(ctx)
}
