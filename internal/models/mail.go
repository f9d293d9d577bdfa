package models

import "time"

// SearchCriteria selects mailbox messages from one sender on one calendar day.
type SearchCriteria struct {
	From string
	On   time.Time
}

// Email is an outgoing notification.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}
