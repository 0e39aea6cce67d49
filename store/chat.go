package store

// Folder groups chats. A folder always contains at least one chat; a folder
// whose only chat shares its title is kept in sync on rename.
type Folder struct {
	ID        string
	CreatorID int32
	Title     string
	CreatedTs int64
}

// FindFolder specifies the conditions for finding folders.
type FindFolder struct {
	ID        *string
	CreatorID *int32
	// ExcludeTemporary drops folders whose chats are all temporary.
	ExcludeTemporary bool
}

// UpdateFolder specifies a folder update.
type UpdateFolder struct {
	ID    string
	Title *string
}

// DeleteFolder deletes a folder and cascades to its chats and messages.
// Memories and summaries keep their provenance references and are never
// deleted by the cascade.
type DeleteFolder struct {
	ID string
}

// Chat is one conversation. It belongs to exactly one folder and always
// contains at least one message; emptying it deletes the chat.
type Chat struct {
	ID        string
	FolderID  string
	CreatorID int32
	Title     string
	Temporary bool
	Incognito bool
	CreatedTs int64
}

// FindChat specifies the conditions for finding chats.
type FindChat struct {
	ID        *string
	FolderID  *string
	CreatorID *int32
	Temporary *bool
}

// UpdateChat specifies a chat update.
type UpdateChat struct {
	ID       string
	FolderID *string
	Title    *string
}

// DeleteChat deletes a chat and cascades to its messages.
type DeleteChat struct {
	ID string
}
