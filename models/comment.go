package models

import "time"

// Comment is an anonymous reply under a post. Identifier references Post.Identifier
// without a foreign key so a comment can outlive a concurrently removed post row.
type Comment struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Identifier string    `gorm:"size:512;index;not null" json:"-"`
	Username   string    `gorm:"size:255;not null" json:"username"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Created    time.Time `gorm:"autoCreateTime;not null" json:"created"`
}
