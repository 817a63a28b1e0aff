package utils

import "errors"

// ErrorRecordNotFound is the generic lookup sentinel the resource
// validators return; callers map it onto their own not-found types.
var ErrorRecordNotFound = errors.New("record not found")
