// Package queue moves photo processing work through a Redis Stream
// shared by the ingest producer and the worker consumers.
package queue

import "github.com/redis/go-redis/v9"

// Field names of a job entry on the stream.
const (
	fieldPhotoID     = "photoId"
	fieldFilename    = "filename"
	fieldStoragePath = "storagePath"
)

// Job is the payload enqueued for one uploaded photo.
type Job struct {
	PhotoID     string
	Filename    string
	StoragePath string
}

// Message is a job as delivered to a consumer, with the stream entry ID.
type Message struct {
	ID string
	Job
}

func decodeMessage(msg redis.XMessage) Message {
	m := Message{ID: msg.ID}
	m.PhotoID, _ = msg.Values[fieldPhotoID].(string)
	m.Filename, _ = msg.Values[fieldFilename].(string)
	m.StoragePath, _ = msg.Values[fieldStoragePath].(string)
	return m
}
