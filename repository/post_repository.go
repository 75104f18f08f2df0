// Package repository stores posts, their star counts and their comments.
//
// Posts are never created on their own: the first star or the first comment on an
// identifier creates the row. Both paths go through a single upsert statement keyed on the
// unique identifier, so concurrent stars on the same identifier never under-count and a
// star racing a comment never fails on a duplicate insert.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/minicomment/models"
)

// PostView is everything a page needs to render its comment section.
type PostView struct {
	Post     string           `json:"post"`
	Stars    int64            `json:"stars"`
	Comments []models.Comment `json:"comments"`
}

// PostRepository reads and writes posts and comments through gorm.
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a repository on top of an opened and migrated database.
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// GetPost returns the post with its comments in insertion order. An unknown identifier
// yields a view with zero stars and no comments, not an error.
func (r *PostRepository) GetPost(ctx context.Context, identifier string) (PostView, error) {
	view := PostView{Post: identifier, Comments: []models.Comment{}}

	var post models.Post
	err := r.db.WithContext(ctx).Where("identifier = ?", identifier).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return view, nil
	}
	if err != nil {
		return view, wrap("get post", err)
	}
	view.Stars = post.Stars

	if err := r.db.WithContext(ctx).
		Where("identifier = ?", identifier).
		Order("id ASC").
		Find(&view.Comments).Error; err != nil {
		return PostView{Post: identifier, Comments: []models.Comment{}}, wrap("list comments", err)
	}
	if view.Comments == nil {
		view.Comments = []models.Comment{}
	}
	return view, nil
}

// StarPost adds one star, creating the post with a single star when it does not exist yet.
// Repeated stars from the same client are not deduplicated.
func (r *PostRepository) StarPost(ctx context.Context, identifier string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"stars": gorm.Expr("stars + 1")}),
	}).Create(&models.Post{Identifier: identifier, Stars: 1}).Error
	return wrap("star post", err)
}

// CommentPost appends a comment, creating the post with zero stars first if needed.
// username and content are stored verbatim; callers sanitize them beforehand.
//
// The post row and the comment row are separate facts: if the comment insert fails the
// freshly created zero-star post stays.
func (r *PostRepository) CommentPost(ctx context.Context, identifier, username, content string) (models.Comment, error) {
	if err := r.ensurePost(ctx, identifier); err != nil {
		return models.Comment{}, err
	}

	comment := models.Comment{
		Identifier: identifier,
		Username:   username,
		Content:    content,
	}
	if err := r.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return models.Comment{}, wrap("insert comment", err)
	}
	return comment, nil
}

// DeleteComment removes one comment by id. Unknown ids are ignored.
func (r *PostRepository) DeleteComment(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Delete(&models.Comment{}, id).Error
	return wrap("delete comment", err)
}

// DeletePost removes the post and every comment under its identifier. Nothing happens
// when the post does not exist.
func (r *PostRepository) DeletePost(ctx context.Context, identifier string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.Where("identifier = ?", identifier).Take(&post).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("identifier = ?", identifier).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		return tx.Where("identifier = ?", identifier).Delete(&models.Comment{}).Error
	})
	return wrap("delete post", err)
}

func (r *PostRepository) ensurePost(ctx context.Context, identifier string) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoNothing: true,
	}).Create(&models.Post{Identifier: identifier}).Error
	return wrap("ensure post", err)
}
