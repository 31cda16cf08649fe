package errcode

import "errors"

var (
	ErrNilGormDB     = errors.New("nil gorm db")
	ErrRecordMissing = errors.New("record not found")
)
