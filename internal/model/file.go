package model

import "time"

type File struct {
	ID        string    `db:"id" json:"id"`
	FilePath  string    `db:"file_path" json:"filePath"`
	FileName  string    `db:"file_name" json:"fileName"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
