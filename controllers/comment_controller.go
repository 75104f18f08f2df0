package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/minicomment/captcha"
	"github.com/cppla/minicomment/models"
	"github.com/cppla/minicomment/repository"
	"github.com/cppla/minicomment/utils"
)

// PostStore is the part of the repository the HTTP layer needs.
type PostStore interface {
	GetPost(ctx context.Context, identifier string) (repository.PostView, error)
	StarPost(ctx context.Context, identifier string) error
	CommentPost(ctx context.Context, identifier, username, content string) (models.Comment, error)
}

// ChallengeStore issues and redeems captchas.
type ChallengeStore interface {
	Issue(ctx context.Context) (captcha.Challenge, error)
	Check(ctx context.Context, id, attempt string) captcha.Result
	Validate(ctx context.Context, id, attempt string) captcha.Result
}

// CommentController serves comments, stars and captcha challenges.
type CommentController struct {
	posts     PostStore
	captchas  ChallengeStore
	postCache *utils.PostCache
}

// NewCommentController creates a new CommentController instance. cache may be nil.
func NewCommentController(posts PostStore, captchas ChallengeStore, cache *utils.PostCache) *CommentController {
	return &CommentController{posts: posts, captchas: captchas, postCache: cache}
}

// GetComments returns stars and comments under ?post=<identifier>.
func (c *CommentController) GetComments(ctx *gin.Context) {
	identifier := ctx.Query("post")
	if identifier == "" {
		utils.Error(ctx, http.StatusNotFound, nil, "post parameter needed")
		return
	}

	var view repository.PostView
	if c.postCache.Get(ctx.Request.Context(), identifier, &view) {
		utils.Success(ctx, view)
		return
	}

	gen := c.postCache.Generation(ctx.Request.Context(), identifier)
	view, err := c.posts.GetPost(ctx.Request.Context(), identifier)
	if err != nil {
		utils.Sugar.Errorw("load post failed", "post", identifier, "err", err)
		utils.Error(ctx, http.StatusInternalServerError, identifier, "failed to load post")
		return
	}
	c.postCache.Set(ctx.Request.Context(), identifier, gen, view)
	utils.Success(ctx, view)
}

// Captcha issues a challenge. The image is the body and the id travels in X-UUID.
func (c *CommentController) Captcha(ctx *gin.Context) {
	ch, err := c.captchas.Issue(ctx.Request.Context())
	if err != nil {
		utils.Sugar.Errorw("issue captcha failed", "err", err)
		utils.Error(ctx, http.StatusInternalServerError, nil, "failed to generate captcha")
		return
	}
	ctx.Header("X-UUID", ch.ID)
	ctx.Header("Cache-Control", "no-store")
	ctx.Data(http.StatusOK, "image/png", ch.Image)
}

type commentRequest struct {
	Post      *string `json:"post"`
	Username  *string `json:"username"`
	Content   *string `json:"content"`
	Captcha   *string `json:"captcha"`
	CaptchaID *string `json:"captchaID"`
}

// CreateComment posts an anonymous comment after the captcha is solved.
// The challenge is consumed only once the sanitized text is accepted.
func (c *CommentController) CreateComment(ctx *gin.Context) {
	var req commentRequest
	if err := ctx.ShouldBindJSON(&req); err != nil ||
		req.Post == nil || req.Username == nil || req.Content == nil ||
		req.Captcha == nil || req.CaptchaID == nil || *req.Post == "" {
		utils.Error(ctx, http.StatusBadRequest, nil, "something is missing")
		return
	}
	identifier := *req.Post

	switch c.captchas.Check(ctx.Request.Context(), *req.CaptchaID, *req.Captcha) {
	case captcha.NotFound:
		utils.Error(ctx, http.StatusForbidden, nil, "no such challenge")
		return
	case captcha.Mismatch:
		utils.Error(ctx, http.StatusForbidden, nil, "captcha challenge failed")
		return
	}

	username := utils.SanitizeUsername(*req.Username)
	content := utils.SanitizeContent(*req.Content)
	if username == "" || content == "" {
		utils.Error(ctx, http.StatusBadRequest, nil, "nice try")
		return
	}

	// a concurrent request may have redeemed the same challenge since Check
	if res := c.captchas.Validate(ctx.Request.Context(), *req.CaptchaID, *req.Captcha); res != captcha.Success {
		utils.Error(ctx, http.StatusForbidden, nil, "no such challenge")
		return
	}

	comment, err := c.posts.CommentPost(ctx.Request.Context(), identifier, username, content)
	c.postCache.Invalidate(ctx.Request.Context(), identifier)
	if err != nil {
		utils.Sugar.Errorw("save comment failed", "post", identifier, "err", err)
		utils.Error(ctx, http.StatusInternalServerError, identifier, "error code:"+errorCode(err))
		return
	}
	utils.Sugar.Infow("comment created", "post", identifier, "comment_id", comment.ID)
	utils.Success(ctx, identifier)
}

type starRequest struct {
	Post *string `json:"post"`
}

// Star adds a star to a post. Repeated stars are counted; deduplication is left to the
// embedding site.
func (c *CommentController) Star(ctx *gin.Context) {
	var req starRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Post == nil || *req.Post == "" {
		utils.Error(ctx, http.StatusBadRequest, nil, "post parameter needed")
		return
	}
	identifier := *req.Post

	err := c.posts.StarPost(ctx.Request.Context(), identifier)
	c.postCache.Invalidate(ctx.Request.Context(), identifier)
	if err != nil {
		utils.Sugar.Errorw("star post failed", "post", identifier, "err", err)
		utils.Error(ctx, http.StatusInternalServerError, identifier, "error code:"+errorCode(err))
		return
	}
	utils.Success(ctx, identifier)
}

func errorCode(err error) string {
	var se *repository.StorageError
	if errors.As(err, &se) {
		return strings.ReplaceAll(se.Op, " ", "_")
	}
	return "unknown"
}
