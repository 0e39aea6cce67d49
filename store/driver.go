package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// InTransaction runs fn against a transaction-scoped driver. All
	// mutations issued through that driver commit or roll back together.
	InTransaction(ctx context.Context, fn func(Driver) error) error

	// Folder model related methods.
	CreateFolder(ctx context.Context, create *Folder) (*Folder, error)
	ListFolders(ctx context.Context, find *FindFolder) ([]*Folder, error)
	UpdateFolder(ctx context.Context, update *UpdateFolder) error
	DeleteFolder(ctx context.Context, delete *DeleteFolder) error

	// Chat model related methods.
	CreateChat(ctx context.Context, create *Chat) (*Chat, error)
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	UpdateChat(ctx context.Context, update *UpdateChat) error
	DeleteChat(ctx context.Context, delete *DeleteChat) error

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)
	UpdateMessage(ctx context.Context, update *UpdateMessage) error
	DeleteMessages(ctx context.Context, delete *DeleteMessage) error
	RelinkMessages(ctx context.Context, relink *RelinkMessages) error
	UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error

	// Memory model related methods.
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)
	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	MarkMemoriesSuperseded(ctx context.Context, chatID string) error
	UpdateMemoryEmbedding(ctx context.Context, id string, embedding []float32) error

	// Summary model related methods.
	CreateSummary(ctx context.Context, create *Summary) (*Summary, error)
	ListSummaries(ctx context.Context, find *FindSummary) ([]*Summary, error)
	UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error

	// ResetEmbeddings nulls every stored embedding for a user. Used when the
	// embedding model configuration changes and vectors become incomparable.
	ResetEmbeddings(ctx context.Context, creatorID int32) error
}
