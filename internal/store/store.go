package store

import (
	"iter"

	"github.com/pliu/friends/internal/models"
)

type Store interface {
	// Membership operations
	PutChannel(rec models.ChannelRecord) error
	DeleteChannel(name string) error
	ChannelRecords() iter.Seq2[models.ChannelRecord, error]

	// Change log operations
	AppendEntry(entry models.Entry) (seq int64, added bool, err error)
	Entries(channel string, after int64, limit int) ([]models.Entry, error)
	Changes(channel string) (int64, error)

	Close() error
}
