// Package teststore provides an in-memory store.Driver for unit tests.
package teststore

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/store"
)

// Driver keeps everything in maps guarded by one mutex. Transactions
// serialize on the mutex but do not roll back; tests that need rollback
// semantics use a real database.
type Driver struct {
	mu sync.Mutex

	folders   map[string]*store.Folder
	chats     map[string]*store.Chat
	messages  map[string]*store.Message
	memories  map[string]*store.Memory
	summaries map[string]*store.Summary
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		folders:   map[string]*store.Folder{},
		chats:     map[string]*store.Chat{},
		messages:  map[string]*store.Message{},
		memories:  map[string]*store.Memory{},
		summaries: map[string]*store.Summary{},
	}
}

// NewStore wraps a fresh in-memory driver in a store facade.
func NewStore() *store.Store {
	return store.New(NewDriver(), &profile.Profile{Mode: "dev", Driver: "sqlite"})
}

func (d *Driver) GetDB() *sql.DB { return nil }

func (d *Driver) Close() error { return nil }

func (d *Driver) Migrate(context.Context) error { return nil }

func (d *Driver) InTransaction(_ context.Context, fn func(store.Driver) error) error {
	return fn(d)
}

func (d *Driver) CreateFolder(_ context.Context, create *store.Folder) (*store.Folder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.folders[create.ID] = &clone
	return create, nil
}

func (d *Driver) ListFolders(_ context.Context, find *store.FindFolder) ([]*store.Folder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	folders := []*store.Folder{}
	for _, folder := range d.folders {
		if v := find.ID; v != nil && folder.ID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && folder.CreatorID != *v {
			continue
		}
		if find.ExcludeTemporary && !d.hasNonTemporaryChatLocked(folder.ID) {
			continue
		}
		clone := *folder
		folders = append(folders, &clone)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].CreatedTs > folders[j].CreatedTs })
	return folders, nil
}

func (d *Driver) hasNonTemporaryChatLocked(folderID string) bool {
	for _, chat := range d.chats {
		if chat.FolderID == folderID && !chat.Temporary {
			return true
		}
	}
	return false
}

func (d *Driver) UpdateFolder(_ context.Context, update *store.UpdateFolder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if folder, ok := d.folders[update.ID]; ok && update.Title != nil {
		folder.Title = *update.Title
	}
	return nil
}

func (d *Driver) DeleteFolder(_ context.Context, del *store.DeleteFolder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, message := range d.messages {
		if message.FolderID == del.ID {
			delete(d.messages, id)
		}
	}
	for id, chat := range d.chats {
		if chat.FolderID == del.ID {
			delete(d.chats, id)
		}
	}
	delete(d.folders, del.ID)
	return nil
}

func (d *Driver) CreateChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.chats[create.ID] = &clone
	return create, nil
}

func (d *Driver) ListChats(_ context.Context, find *store.FindChat) ([]*store.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	chats := []*store.Chat{}
	for _, chat := range d.chats {
		if v := find.ID; v != nil && chat.ID != *v {
			continue
		}
		if v := find.FolderID; v != nil && chat.FolderID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && chat.CreatorID != *v {
			continue
		}
		if v := find.Temporary; v != nil && chat.Temporary != *v {
			continue
		}
		clone := *chat
		chats = append(chats, &clone)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].CreatedTs > chats[j].CreatedTs })
	return chats, nil
}

func (d *Driver) UpdateChat(_ context.Context, update *store.UpdateChat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chat, ok := d.chats[update.ID]
	if !ok {
		return nil
	}
	if update.FolderID != nil {
		chat.FolderID = *update.FolderID
	}
	if update.Title != nil {
		chat.Title = *update.Title
	}
	return nil
}

func (d *Driver) DeleteChat(_ context.Context, del *store.DeleteChat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, message := range d.messages {
		if message.ChatID == del.ID {
			delete(d.messages, id)
		}
	}
	delete(d.chats, del.ID)
	return nil
}

func (d *Driver) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.messages[create.ID] = &clone
	return create, nil
}

func (d *Driver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range find.IDs {
		wanted[id] = true
	}
	messages := []*store.Message{}
	for _, message := range d.messages {
		if v := find.ID; v != nil && message.ID != *v {
			continue
		}
		if len(wanted) > 0 && !wanted[message.ID] {
			continue
		}
		if v := find.ChatID; v != nil && message.ChatID != *v {
			continue
		}
		if v := find.FolderID; v != nil && message.FolderID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && message.CreatorID != *v {
			continue
		}
		if find.MissingEmbedding {
			if message.Embedding != nil {
				continue
			}
			if chat, ok := d.chats[message.ChatID]; ok && chat.Temporary {
				continue
			}
		}
		clone := *message
		if !find.WithMetadata {
			clone.Metadata = nil
		}
		messages = append(messages, &clone)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreatedTs < messages[j].CreatedTs })
	if find.Limit > 0 && len(messages) > find.Limit {
		messages = messages[:find.Limit]
	}
	return messages, nil
}

func (d *Driver) UpdateMessage(_ context.Context, update *store.UpdateMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	message, ok := d.messages[update.ID]
	if !ok {
		return nil
	}
	if update.Author != nil {
		message.Author = *update.Author
	}
	if update.Config != nil {
		message.Config = *update.Config
	}
	if update.Data != nil {
		message.Data = update.Data
	}
	if update.Metadata != nil {
		message.Metadata = update.Metadata
	}
	if update.CreatedTs != nil {
		message.CreatedTs = *update.CreatedTs
	}
	return nil
}

func (d *Driver) DeleteMessages(_ context.Context, del *store.DeleteMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v := del.ChatID; v != nil {
		for id, message := range d.messages {
			if message.ChatID == *v {
				delete(d.messages, id)
			}
		}
		return nil
	}
	for _, id := range del.IDs {
		delete(d.messages, id)
	}
	return nil
}

func (d *Driver) RelinkMessages(_ context.Context, relink *store.RelinkMessages) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, message := range d.messages {
		if message.ChatID != relink.ChatID {
			continue
		}
		if relink.ExcludeID != nil && message.ID == *relink.ExcludeID {
			continue
		}
		if !equalPtr(message.PreviousID, relink.PreviousID) {
			continue
		}
		message.PreviousID = clonePtr(relink.NewPreviousID)
	}
	return nil
}

func (d *Driver) UpdateMessageEmbedding(_ context.Context, id string, embedding []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if message, ok := d.messages[id]; ok {
		message.Embedding = embedding
	}
	return nil
}

func (d *Driver) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.memories[create.ID] = &clone
	return create, nil
}

func (d *Driver) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	memories := []*store.Memory{}
	for _, memory := range d.memories {
		if v := find.ID; v != nil && memory.ID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && memory.CreatorID != *v {
			continue
		}
		if v := find.ChatID; v != nil && memory.ChatID != *v {
			continue
		}
		if v := find.Latest; v != nil && memory.Latest != *v {
			continue
		}
		if find.MissingEmbedding && memory.Embedding != nil {
			continue
		}
		clone := *memory
		memories = append(memories, &clone)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].CreatedTs > memories[j].CreatedTs })
	if find.Limit > 0 && len(memories) > find.Limit {
		memories = memories[:find.Limit]
	}
	return memories, nil
}

func (d *Driver) MarkMemoriesSuperseded(_ context.Context, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, memory := range d.memories {
		if memory.ChatID == chatID {
			memory.Latest = false
		}
	}
	return nil
}

func (d *Driver) UpdateMemoryEmbedding(_ context.Context, id string, embedding []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if memory, ok := d.memories[id]; ok {
		memory.Embedding = embedding
	}
	return nil
}

func (d *Driver) CreateSummary(_ context.Context, create *store.Summary) (*store.Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := *create
	d.summaries[create.ID] = &clone
	return create, nil
}

func (d *Driver) ListSummaries(_ context.Context, find *store.FindSummary) ([]*store.Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	summaries := []*store.Summary{}
	for _, summary := range d.summaries {
		if v := find.ID; v != nil && summary.ID != *v {
			continue
		}
		if v := find.CreatorID; v != nil && summary.CreatorID != *v {
			continue
		}
		if v := find.ChatID; v != nil && summary.ChatID != *v {
			continue
		}
		if find.MissingEmbedding && summary.Embedding != nil {
			continue
		}
		clone := *summary
		summaries = append(summaries, &clone)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].CreatedTs > summaries[j].CreatedTs })
	if find.Limit > 0 && len(summaries) > find.Limit {
		summaries = summaries[:find.Limit]
	}
	return summaries, nil
}

func (d *Driver) UpdateSummaryEmbedding(_ context.Context, id string, embedding []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if summary, ok := d.summaries[id]; ok {
		summary.Embedding = embedding
	}
	return nil
}

func (d *Driver) ResetEmbeddings(_ context.Context, creatorID int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, message := range d.messages {
		if message.CreatorID == creatorID {
			message.Embedding = nil
		}
	}
	for _, summary := range d.summaries {
		if summary.CreatorID == creatorID {
			summary.Embedding = nil
		}
	}
	for _, memory := range d.memories {
		if memory.CreatorID == creatorID {
			memory.Embedding = nil
		}
	}
	return nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
