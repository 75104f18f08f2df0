package models

// Post is the subject comments and stars are attached to. Identifier is supplied by the
// embedding page (URL, slug, ...) and is the only key callers know about.
type Post struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	Identifier string `gorm:"size:512;uniqueIndex;not null" json:"post"`
	Stars      int64  `gorm:"not null;default:0" json:"stars"`
}
