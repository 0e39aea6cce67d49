package store

import (
	"context"
	"time"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	chatCache   *cache.Cache // cache for chats
	folderCache *cache.Cache // cache for folders
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
	}

	return &Store{
		driver:      driver,
		profile:     profile,
		chatCache:   cache.New(cacheConfig),
		folderCache: cache.New(cacheConfig),
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	if s.chatCache != nil {
		s.chatCache.Close()
	}
	if s.folderCache != nil {
		s.folderCache.Close()
	}
	return s.driver.Close()
}

// InTransaction runs fn against a Store scoped to a single transaction.
// The transactional Store shares no caches; invalidation happens on commit
// through the outer Store's mutating methods.
func (s *Store) InTransaction(ctx context.Context, fn func(*Store) error) error {
	return s.driver.InTransaction(ctx, func(txDriver Driver) error {
		return fn(&Store{driver: txDriver, profile: s.profile})
	})
}

// InvalidateChat drops a chat from the read cache. Callers that mutate chats
// inside a transaction invalidate after commit.
func (s *Store) InvalidateChat(id string) {
	if s.chatCache != nil {
		s.chatCache.Delete(id)
	}
}

// InvalidateFolder drops a folder from the read cache.
func (s *Store) InvalidateFolder(id string) {
	if s.folderCache != nil {
		s.folderCache.Delete(id)
	}
}

func (s *Store) CreateFolder(ctx context.Context, create *Folder) (*Folder, error) {
	return s.driver.CreateFolder(ctx, create)
}

func (s *Store) ListFolders(ctx context.Context, find *FindFolder) ([]*Folder, error) {
	return s.driver.ListFolders(ctx, find)
}

// GetFolder returns a single folder by id, or nil when absent.
func (s *Store) GetFolder(ctx context.Context, id string) (*Folder, error) {
	if s.folderCache != nil {
		if v, ok := s.folderCache.Get(id); ok {
			return v.(*Folder), nil
		}
	}
	folders, err := s.driver.ListFolders(ctx, &FindFolder{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(folders) == 0 {
		return nil, nil
	}
	if s.folderCache != nil {
		s.folderCache.Set(id, folders[0])
	}
	return folders[0], nil
}

func (s *Store) UpdateFolder(ctx context.Context, update *UpdateFolder) error {
	if s.folderCache != nil {
		s.folderCache.Delete(update.ID)
	}
	return s.driver.UpdateFolder(ctx, update)
}

func (s *Store) DeleteFolder(ctx context.Context, delete *DeleteFolder) error {
	if s.folderCache != nil {
		s.folderCache.Delete(delete.ID)
	}
	return s.driver.DeleteFolder(ctx, delete)
}

func (s *Store) CreateChat(ctx context.Context, create *Chat) (*Chat, error) {
	return s.driver.CreateChat(ctx, create)
}

func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

// GetChat returns a single chat by id, or nil when absent.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	if s.chatCache != nil {
		if v, ok := s.chatCache.Get(id); ok {
			return v.(*Chat), nil
		}
	}
	chats, err := s.driver.ListChats(ctx, &FindChat{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, nil
	}
	if s.chatCache != nil {
		s.chatCache.Set(id, chats[0])
	}
	return chats[0], nil
}

func (s *Store) UpdateChat(ctx context.Context, update *UpdateChat) error {
	if s.chatCache != nil {
		s.chatCache.Delete(update.ID)
	}
	return s.driver.UpdateChat(ctx, update)
}

func (s *Store) DeleteChat(ctx context.Context, delete *DeleteChat) error {
	if s.chatCache != nil {
		s.chatCache.Delete(delete.ID)
	}
	return s.driver.DeleteChat(ctx, delete)
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

func (s *Store) UpdateMessage(ctx context.Context, update *UpdateMessage) error {
	return s.driver.UpdateMessage(ctx, update)
}

func (s *Store) DeleteMessages(ctx context.Context, delete *DeleteMessage) error {
	return s.driver.DeleteMessages(ctx, delete)
}

func (s *Store) RelinkMessages(ctx context.Context, relink *RelinkMessages) error {
	return s.driver.RelinkMessages(ctx, relink)
}

func (s *Store) UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.driver.UpdateMessageEmbedding(ctx, id, embedding)
}

func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	return s.driver.CreateMemory(ctx, create)
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) MarkMemoriesSuperseded(ctx context.Context, chatID string) error {
	return s.driver.MarkMemoriesSuperseded(ctx, chatID)
}

func (s *Store) UpdateMemoryEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.driver.UpdateMemoryEmbedding(ctx, id, embedding)
}

func (s *Store) CreateSummary(ctx context.Context, create *Summary) (*Summary, error) {
	return s.driver.CreateSummary(ctx, create)
}

func (s *Store) ListSummaries(ctx context.Context, find *FindSummary) ([]*Summary, error) {
	return s.driver.ListSummaries(ctx, find)
}

func (s *Store) UpdateSummaryEmbedding(ctx context.Context, id string, embedding []float32) error {
	return s.driver.UpdateSummaryEmbedding(ctx, id, embedding)
}

func (s *Store) ResetEmbeddings(ctx context.Context, creatorID int32) error {
	return s.driver.ResetEmbeddings(ctx, creatorID)
}
