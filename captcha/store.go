// Package captcha issues image challenges and redeems each of them at most once.
//
// A failed attempt does not burn the challenge: only a matching attempt removes it, so a
// typo can be retried against the same image.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultLength = 4
	DefaultWidth  = 190
	DefaultHeight = 72
)

// Result classifies a validation attempt.
type Result int

const (
	// NotFound means the id is unknown, already redeemed or expired.
	NotFound Result = iota
	Mismatch
	Success
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Mismatch:
		return "mismatch"
	default:
		return "not_found"
	}
}

// Challenge is what a client receives: an id to send back and the PNG to solve.
type Challenge struct {
	ID    string
	Image []byte
}

// Options tunes a Store. Zero values fall back to the defaults.
type Options struct {
	Length int
	Width  int
	Height int
	Logger *zap.Logger
}

// Store issues and validates challenges. It is safe for concurrent use.
type Store struct {
	backend  Backend
	renderer *Renderer
	length   int
	log      *zap.Logger
	now      func() time.Time
}

// NewStore creates a Store on top of backend.
func NewStore(backend Backend, opts Options) *Store {
	if opts.Length <= 0 {
		opts.Length = DefaultLength
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		renderer: NewRenderer(opts.Width, opts.Height, opts.Length),
		length:   opts.Length,
		log:      opts.Logger,
		now:      time.Now,
	}
}

// Issue creates a new challenge, stores its code and returns the rendered image.
func (s *Store) Issue(ctx context.Context) (Challenge, error) {
	ch, _, err := s.issue(ctx)
	return ch, err
}

func (s *Store) issue(ctx context.Context) (Challenge, string, error) {
	code := GenerateCode(s.length)
	img, err := s.renderer.Render(code)
	if err != nil {
		return Challenge{}, "", fmt.Errorf("render captcha: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		id := uuid.NewString()
		err = s.backend.Save(ctx, id, code, s.now())
		if errors.Is(err, ErrDuplicateID) {
			continue
		}
		if err != nil {
			return Challenge{}, "", fmt.Errorf("save captcha: %w", err)
		}
		return Challenge{ID: id, Image: img}, code, nil
	}
	return Challenge{}, "", err
}

// Validate checks attempt against the challenge id. Comparison ignores case and surrounding
// whitespace. Only Success consumes the challenge. Backend failures are logged and
// reported as NotFound.
func (s *Store) Validate(ctx context.Context, id, attempt string) Result {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotFound
	}
	res, err := s.backend.Redeem(ctx, id, normalize(attempt), s.now())
	if err != nil {
		s.log.Warn("captcha redeem failed", zap.String("id", id), zap.Error(err))
		return NotFound
	}
	return res
}

// Check classifies attempt like Validate but never consumes the challenge.
func (s *Store) Check(ctx context.Context, id, attempt string) Result {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotFound
	}
	res, err := s.backend.Check(ctx, id, normalize(attempt), s.now())
	if err != nil {
		s.log.Warn("captcha check failed", zap.String("id", id), zap.Error(err))
		return NotFound
	}
	return res
}

// Sweep removes expired challenges from the backend.
func (s *Store) Sweep(ctx context.Context) int {
	n, err := s.backend.Sweep(ctx, s.now())
	if err != nil {
		s.log.Warn("captcha sweep failed", zap.Error(err))
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(ctx); n > 0 {
					s.log.Debug("expired captchas removed", zap.Int("count", n))
				}
			}
		}
	}()
}

func normalize(attempt string) string {
	return strings.ToUpper(strings.TrimSpace(attempt))
}
