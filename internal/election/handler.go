package election

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univote/backend/internal/middleware"
	"github.com/univote/backend/pkg/response"
)

const maxImageBytes = 5 << 20

// CreatePostRequest is the body for POST /admin/posts.
type CreatePostRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateContestantRequest is the body for POST /admin/contestants.
// Multipart requests carry the same fields as form values plus an "image" file.
type CreateContestantRequest struct {
	Name   string `json:"name" form:"name"`
	PostID string `json:"post_id" form:"post_id"`
	Bio    string `json:"bio" form:"bio"`
}

// AdjustRequest is the body for POST /admin/contestants/:id/adjust.
type AdjustRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason"`
}

// SetVotesRequest is the body for PUT /admin/contestants/:id/votes.
type SetVotesRequest struct {
	Votes  *int64 `json:"votes" binding:"required"`
	Reason string `json:"reason"`
}

// Handler serves the election HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an election handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterBallotRoutes mounts the voter-only routes on rg, which must already resolve the caller.
// limit, when non-nil, runs in front of the vote handler.
func (h *Handler) RegisterBallotRoutes(rg gin.IRoutes, limit gin.HandlerFunc) {
	vote := []gin.HandlerFunc{middleware.RequireVoter()}
	if limit != nil {
		vote = append(vote, limit)
	}
	rg.POST("/contestants/:id/vote", append(vote, h.Vote)...)
	rg.GET("/me/voted-posts", middleware.RequireVoter(), h.VotedPosts)
}

// writeError maps service errors onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(c, verr.Error())
	case errors.Is(err, ErrDuplicateVote), errors.Is(err, ErrPostExists):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrElectionClosed), errors.Is(err, ErrResultsNotAnnounced):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrContestantNotFound), errors.Is(err, ErrPostNotFound):
		response.NotFound(c, err.Error())
	default:
		h.logger.Error("election request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error, please retry")
	}
}

func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

// Status handles GET /election/status.
func (h *Handler) Status(c *gin.Context) {
	st, err := h.svc.State(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"state": st.State(), "results_announced": st.ResultsAnnounced, "updated_at": st.UpdatedAt})
}

// ListPosts handles GET /posts.
func (h *Handler) ListPosts(c *gin.Context) {
	list, err := h.svc.ListPosts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// ListContestants handles GET /contestants?post_id=.
func (h *Handler) ListContestants(c *gin.Context) {
	postID, ok := queryID(c, "post_id")
	if !ok {
		return
	}
	list, err := h.svc.ListContestants(c.Request.Context(), postID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Vote handles POST /contestants/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	contestantID, ok := paramID(c, "id")
	if !ok {
		return
	}
	voterID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	v, err := h.svc.CastVote(c.Request.Context(), voterID, contestantID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, v)
}

// VotedPosts handles GET /me/voted-posts.
func (h *Handler) VotedPosts(c *gin.Context) {
	voterID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	posts, err := h.svc.VotedPosts(c.Request.Context(), voterID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, posts)
}

// PublicResults handles GET /results.
func (h *Handler) PublicResults(c *gin.Context) {
	board, err := h.svc.PublicResults(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, board)
}

// Board handles GET /admin/results.
func (h *Handler) Board(c *gin.Context) {
	board, err := h.svc.Board(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, board)
}

// Ranking handles GET /admin/results/:post_id.
func (h *Handler) Ranking(c *gin.Context) {
	postID, ok := paramID(c, "post_id")
	if !ok {
		return
	}
	ranked, err := h.svc.Ranking(c.Request.Context(), postID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var winner interface{}
	if len(ranked) > 0 {
		winner = ranked[0]
	}
	response.OK(c, gin.H{"post_id": postID, "winner": winner, "ranking": ranked})
}

// CreatePost handles POST /admin/posts.
func (h *Handler) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.CreatePost(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, p)
}

// DeletePost handles DELETE /admin/posts/:id.
func (h *Handler) DeletePost(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeletePost(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "deleted": true})
}

// CreateContestant handles POST /admin/contestants as JSON or multipart form.
func (h *Handler) CreateContestant(c *gin.Context) {
	var req CreateContestantRequest
	multipart := strings.HasPrefix(c.ContentType(), "multipart/")
	var err error
	if multipart {
		err = c.ShouldBind(&req)
	} else {
		err = c.ShouldBindJSON(&req)
	}
	if err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	in := NewContestant{Name: req.Name, Bio: req.Bio}
	if req.PostID != "" {
		postID, err := uuid.Parse(req.PostID)
		if err != nil {
			response.BadRequest(c, "invalid post_id")
			return
		}
		in.PostID = postID
	}

	if multipart {
		if fh, err := c.FormFile("image"); err == nil {
			if fh.Size > maxImageBytes {
				response.BadRequest(c, "image too large")
				return
			}
			f, err := fh.Open()
			if err != nil {
				response.BadRequest(c, "unreadable image")
				return
			}
			defer f.Close()
			in.Image = &ImageUpload{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Body:        f,
			}
		}
	}

	ct, err := h.svc.CreateContestant(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, ct)
}

// DeleteContestant handles DELETE /admin/contestants/:id.
func (h *Handler) DeleteContestant(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteContestant(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "deleted": true})
}

// Adjust handles POST /admin/contestants/:id/adjust.
func (h *Handler) Adjust(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	adminID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	adj, err := h.svc.AdjustVotes(c.Request.Context(), adminID, id, req.Delta, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, adj)
}

// SetVotes handles PUT /admin/contestants/:id/votes.
func (h *Handler) SetVotes(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req SetVotesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	adminID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	adj, changed, err := h.svc.SetVotes(c.Request.Context(), adminID, id, *req.Votes, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"changed": changed, "votes": adj.VotesAfter, "adjustment": adj})
}

// Reset handles POST /admin/votes/reset.
func (h *Handler) Reset(c *gin.Context) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	if err := h.svc.ResetAll(c.Request.Context(), adminID); err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"reset": true})
}

// Announce handles POST /admin/election/announce.
func (h *Handler) Announce(c *gin.Context) {
	h.transition(c, true)
}

// Withdraw handles POST /admin/election/withdraw.
func (h *Handler) Withdraw(c *gin.Context) {
	h.transition(c, false)
}

func (h *Handler) transition(c *gin.Context, announce bool) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		return
	}
	var err error
	if announce {
		err = h.svc.Announce(c.Request.Context(), adminID)
	} else {
		err = h.svc.Withdraw(c.Request.Context(), adminID)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.Status(c)
}

// History handles GET /admin/votes?post_id=&contestant_id=&voter_id=&limit=.
func (h *Handler) History(c *gin.Context) {
	var f VoteFilter
	var ok bool
	if f.PostID, ok = queryID(c, "post_id"); !ok {
		return
	}
	if f.ContestantID, ok = queryID(c, "contestant_id"); !ok {
		return
	}
	if f.VoterID, ok = queryID(c, "voter_id"); !ok {
		return
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	list, err := h.svc.History(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Stats handles GET /admin/stats.
func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, st)
}

// Audit handles GET /admin/tally/audit.
func (h *Handler) Audit(c *gin.Context) {
	list, err := h.svc.Reconcile(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Adjustments handles GET /admin/tally/adjustments?limit=.
func (h *Handler) Adjustments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.svc.Adjustments(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}
