package store

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrAlreadyResolved      = errors.New("conversation already resolved")
	ErrDuplicateApproval    = errors.New("task already approved by user")
)
