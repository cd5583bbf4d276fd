package engine

import (
	"fmt"
	"path"

	"coalesce/pkg/types"
)

// Channel name builders. Channels are the named scopes that gate which
// actions a node processes.

func FileChannel(id types.FileID) string {
	return fmt.Sprintf("file:%s", id)
}

func DirectoryChannel(dir string) string {
	return fmt.Sprintf("directory:%s", dir)
}

func UserFilesChannel(user types.UserID) string {
	return fmt.Sprintf("user:%s:files", user)
}

func ProjectFilesChannel(project string) string {
	return fmt.Sprintf("project:%s:files", project)
}

const PublicFilesChannel = "public:files"

// channelsFor annotates an outgoing action with every channel it is
// relevant to.
func channelsFor(f *types.SyncedFile) []string {
	channels := []string{
		FileChannel(f.ID),
		DirectoryChannel(path.Dir(f.Path)),
		UserFilesChannel(f.Permissions.Owner),
	}
	if f.Permissions.Public {
		channels = append(channels, PublicFilesChannel)
	}
	return channels
}

// Subscribe registers interest in a channel, both locally and with the
// transport.
func (e *Engine) Subscribe(channel string) error {
	e.mu.Lock()
	e.subs[channel] = struct{}{}
	e.mu.Unlock()
	return e.transport.Subscribe(channel)
}

// Unsubscribe drops a channel. Subsequent inbound actions scoped only to it
// are discarded.
func (e *Engine) Unsubscribe(channel string) error {
	e.mu.Lock()
	delete(e.subs, channel)
	e.mu.Unlock()
	return e.transport.Unsubscribe(channel)
}

// Subscriptions returns the active channel set.
func (e *Engine) Subscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.subs))
	for ch := range e.subs {
		out = append(out, ch)
	}
	return out
}

// subscribedAny is called with e.mu held.
func (e *Engine) subscribedAny(channels []string) bool {
	for _, ch := range channels {
		if _, ok := e.subs[ch]; ok {
			return true
		}
	}
	return false
}
