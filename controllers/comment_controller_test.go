package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/minicomment/captcha"
	"github.com/cppla/minicomment/models"
	"github.com/cppla/minicomment/repository"
	"github.com/cppla/minicomment/utils"
)

type fakePosts struct {
	mu       sync.Mutex
	stars    map[string]int64
	comments map[string][]models.Comment
	err      error
}

func newFakePosts() *fakePosts {
	return &fakePosts{stars: map[string]int64{}, comments: map[string][]models.Comment{}}
}

func (f *fakePosts) GetPost(_ context.Context, identifier string) (repository.PostView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return repository.PostView{}, f.err
	}
	cs := append([]models.Comment{}, f.comments[identifier]...)
	return repository.PostView{Post: identifier, Stars: f.stars[identifier], Comments: cs}, nil
}

func (f *fakePosts) StarPost(_ context.Context, identifier string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stars[identifier]++
	return nil
}

func (f *fakePosts) CommentPost(_ context.Context, identifier, username, content string) (models.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Comment{}, f.err
	}
	c := models.Comment{ID: uint(len(f.comments[identifier]) + 1), Identifier: identifier, Username: username, Content: content}
	f.comments[identifier] = append(f.comments[identifier], c)
	return c, nil
}

type fakeChallenges struct {
	codes map[string]string
}

func (f *fakeChallenges) Issue(context.Context) (captcha.Challenge, error) {
	f.codes["id-1"] = "AB12"
	return captcha.Challenge{ID: "id-1", Image: []byte("\x89PNG")}, nil
}

func (f *fakeChallenges) Check(_ context.Context, id, attempt string) captcha.Result {
	code, ok := f.codes[id]
	if !ok {
		return captcha.NotFound
	}
	if code != strings.ToUpper(strings.TrimSpace(attempt)) {
		return captcha.Mismatch
	}
	return captcha.Success
}

func (f *fakeChallenges) Validate(ctx context.Context, id, attempt string) captcha.Result {
	res := f.Check(ctx, id, attempt)
	if res == captcha.Success {
		delete(f.codes, id)
	}
	return res
}

func newTestEngine(posts PostStore, challenges ChallengeStore) *gin.Engine {
	return newCachedTestEngine(posts, challenges, nil)
}

func newCachedTestEngine(posts PostStore, challenges ChallengeStore, cache *utils.PostCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	c := NewCommentController(posts, challenges, cache)
	r := gin.New()
	r.GET("/comments", c.GetComments)
	r.GET("/captcha", c.Captcha)
	r.POST("/comment", c.CreateComment)
	r.POST("/star", c.Star)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func validComment() map[string]string {
	return map[string]string{
		"post":      "/blog/hello",
		"username":  "Alice",
		"content":   "hello",
		"captcha":   " ab12 ",
		"captchaID": "id-1",
	}
}

func TestGetCommentsRequiresPost(t *testing.T) {
	r := newTestEngine(newFakePosts(), &fakeChallenges{codes: map[string]string{}})
	w, body := doJSON(r, http.MethodGet, "/comments", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "post parameter needed", body["error"])
}

func TestGetCommentsFreshPost(t *testing.T) {
	r := newTestEngine(newFakePosts(), &fakeChallenges{codes: map[string]string{}})
	w, body := doJSON(r, http.MethodGet, "/comments?post=new", nil)
	require.Equal(t, http.StatusOK, w.Code)
	post := body["post"].(map[string]interface{})
	assert.Equal(t, "new", post["post"])
	assert.EqualValues(t, 0, post["stars"])
	assert.Empty(t, post["comments"])
}

func TestCaptchaSetsHeader(t *testing.T) {
	r := newTestEngine(newFakePosts(), &fakeChallenges{codes: map[string]string{}})
	req := httptest.NewRequest(http.MethodGet, "/captcha", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "id-1", w.Header().Get("X-UUID"))
}

func TestCreateCommentFlow(t *testing.T) {
	posts := newFakePosts()
	challenges := &fakeChallenges{codes: map[string]string{"id-1": "AB12"}}
	r := newTestEngine(posts, challenges)

	w, body := doJSON(r, http.MethodPost, "/comment", validComment())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/blog/hello", body["post"])
	assert.Nil(t, body["error"])
	require.Len(t, posts.comments["/blog/hello"], 1)

	// replaying the redeemed challenge fails
	w, body = doJSON(r, http.MethodPost, "/comment", validComment())
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "no such challenge", body["error"])
}

func TestCreateCommentMissingField(t *testing.T) {
	r := newTestEngine(newFakePosts(), &fakeChallenges{codes: map[string]string{"id-1": "AB12"}})
	req := validComment()
	delete(req, "captchaID")
	w, body := doJSON(r, http.MethodPost, "/comment", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "something is missing", body["error"])
}

func TestCreateCommentWrongCaptchaKeepsChallenge(t *testing.T) {
	posts := newFakePosts()
	challenges := &fakeChallenges{codes: map[string]string{"id-1": "AB12"}}
	r := newTestEngine(posts, challenges)

	req := validComment()
	req["captcha"] = "ZZZZ"
	w, body := doJSON(r, http.MethodPost, "/comment", req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "captcha challenge failed", body["error"])

	w, _ = doJSON(r, http.MethodPost, "/comment", validComment())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateCommentRejectsEmptySanitizedText(t *testing.T) {
	posts := newFakePosts()
	challenges := &fakeChallenges{codes: map[string]string{"id-1": "AB12"}}
	r := newTestEngine(posts, challenges)

	req := validComment()
	req["username"] = "<script>alert(1)</script>"
	w, body := doJSON(r, http.MethodPost, "/comment", req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "nice try", body["error"])
	assert.Empty(t, posts.comments)
	// challenge survives a rejected body
	assert.Contains(t, challenges.codes, "id-1")
}

func TestCreateCommentSanitizes(t *testing.T) {
	posts := newFakePosts()
	r := newTestEngine(posts, &fakeChallenges{codes: map[string]string{"id-1": "AB12"}})

	req := validComment()
	req["username"] = " <b>Bob</b> "
	req["content"] = "<b>hi</b>\n<div>there</div>"
	w, _ := doJSON(r, http.MethodPost, "/comment", req)
	require.Equal(t, http.StatusOK, w.Code)

	got := posts.comments["/blog/hello"][0]
	assert.Equal(t, "Bob", got.Username)
	assert.Equal(t, "<b>hi</b><br />there", got.Content)
}

func TestCreateCommentStorageError(t *testing.T) {
	posts := newFakePosts()
	posts.err = &repository.StorageError{Op: "insert comment", Err: errors.New("disk full")}
	r := newTestEngine(posts, &fakeChallenges{codes: map[string]string{"id-1": "AB12"}})

	w, body := doJSON(r, http.MethodPost, "/comment", validComment())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "/blog/hello", body["post"])
	assert.Equal(t, "error code:insert_comment", body["error"])
}

func TestStar(t *testing.T) {
	posts := newFakePosts()
	r := newTestEngine(posts, &fakeChallenges{codes: map[string]string{}})

	for i := 0; i < 3; i++ {
		w, body := doJSON(r, http.MethodPost, "/star", map[string]string{"post": "p"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "p", body["post"])
	}
	assert.EqualValues(t, 3, posts.stars["p"])

	w, body := doJSON(r, http.MethodPost, "/star", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "post parameter needed", body["error"])
}

// slowPosts pauses the first GetPost after it has read the store.
type slowPosts struct {
	*fakePosts
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *slowPosts) GetPost(ctx context.Context, identifier string) (repository.PostView, error) {
	view, err := s.fakePosts.GetPost(ctx, identifier)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return view, err
}

func newTestPostCache(t *testing.T) *utils.PostCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return utils.NewPostCache(client, time.Minute)
}

func starsOf(t *testing.T, body map[string]interface{}) float64 {
	t.Helper()
	post, ok := body["post"].(map[string]interface{})
	require.True(t, ok, "post view missing: %v", body)
	return post["stars"].(float64)
}

func TestGetCommentsServesFromCache(t *testing.T) {
	posts := newFakePosts()
	r := newCachedTestEngine(posts, &fakeChallenges{codes: map[string]string{}}, newTestPostCache(t))

	_, body := doJSON(r, http.MethodGet, "/comments?post=p", nil)
	assert.EqualValues(t, 0, starsOf(t, body))

	// a write that bypasses the handlers is not seen until invalidation
	posts.mu.Lock()
	posts.stars["p"] = 7
	posts.mu.Unlock()
	_, body = doJSON(r, http.MethodGet, "/comments?post=p", nil)
	assert.EqualValues(t, 0, starsOf(t, body))

	w, _ := doJSON(r, http.MethodPost, "/star", map[string]string{"post": "p"})
	require.Equal(t, http.StatusOK, w.Code)
	_, body = doJSON(r, http.MethodGet, "/comments?post=p", nil)
	assert.EqualValues(t, 8, starsOf(t, body))
}

func TestGetCommentsDoesNotCacheViewOlderThanStar(t *testing.T) {
	posts := &slowPosts{fakePosts: newFakePosts(), read: make(chan struct{}), release: make(chan struct{})}
	r := newCachedTestEngine(posts, &fakeChallenges{codes: map[string]string{}}, newTestPostCache(t))

	done := make(chan map[string]interface{}, 1)
	go func() {
		_, body := doJSON(r, http.MethodGet, "/comments?post=p", nil)
		done <- body
	}()

	<-posts.read
	w, _ := doJSON(r, http.MethodPost, "/star", map[string]string{"post": "p"})
	require.Equal(t, http.StatusOK, w.Code)
	close(posts.release)
	assert.EqualValues(t, 0, starsOf(t, <-done))

	_, body := doJSON(r, http.MethodGet, "/comments?post=p", nil)
	assert.EqualValues(t, 1, starsOf(t, body))
}

func TestCreateCommentInvalidatesCache(t *testing.T) {
	posts := newFakePosts()
	r := newCachedTestEngine(posts, &fakeChallenges{codes: map[string]string{"id-1": "AB12"}}, newTestPostCache(t))

	_, body := doJSON(r, http.MethodGet, "/comments?post=/blog/hello", nil)
	assert.Empty(t, body["post"].(map[string]interface{})["comments"])

	w, _ := doJSON(r, http.MethodPost, "/comment", validComment())
	require.Equal(t, http.StatusOK, w.Code)

	_, body = doJSON(r, http.MethodGet, "/comments?post=/blog/hello", nil)
	assert.Len(t, body["post"].(map[string]interface{})["comments"], 1)
}
