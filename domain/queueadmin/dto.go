package queueadmin

import "github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"

// QueueStatus is the admin view of one queue.
type QueueStatus struct {
	Queue  jobs.QueueName  `json:"queue"`
	Counts jobs.Counts     `json:"counts"`
	Pool   *jobs.PoolStats `json:"pool,omitempty"`
}

// QueueListResponse wraps the status of every queue.
type QueueListResponse struct {
	Data []QueueStatus `json:"data"`
}

// RepeatListResponse wraps the repeat schedules of one queue.
type RepeatListResponse struct {
	Data []jobs.RepeatSpec `json:"data"`
}

// ActionResponse acknowledges a queue control action.
type ActionResponse struct {
	Queue  jobs.QueueName `json:"queue"`
	Status string         `json:"status"`
}
