package mailbox

// registry indexes every known Folder by its full name. The parent/child
// relation is a lookup against this map (Folder.Parent), never an owning
// pointer, so renaming or dropping a folder never has to walk a tree.
type registry map[string]*Folder

func (c *Client) folderParent(fullName string, sep byte) string {
	if sep == 0 {
		return ""
	}
	idx := -1
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == sep {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ""
	}
	return fullName[:idx]
}

// upsert creates or updates the Folder for fullName from a LIST-derived
// attribute set and separator, preserving any already-known mutable state
// (open/exists/counts) when the folder already existed.
func (c *Client) upsert(fullName string, sep byte, attrs Attributes) *Folder {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.registry[fullName]
	if !ok {
		f = &Folder{client: c, FullName: fullName}
		c.registry[fullName] = f
	}
	f.DirectorySeparator = sep
	f.Attributes = attrs
	if sep != 0 {
		if idx := lastIndexByte(fullName, sep); idx >= 0 {
			f.Name = fullName[idx+1:]
		} else {
			f.Name = fullName
		}
	} else {
		f.Name = fullName
	}
	f.parentName = c.folderParent(fullName, sep)
	if fullName == "INBOX" {
		f.Attributes |= AttrInbox
	}
	return f
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Folders returns every folder the registry currently knows about.
func (c *Client) Folders() []*Folder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Folder, 0, len(c.registry))
	for _, f := range c.registry {
		out = append(out, f)
	}
	return out
}

// Folder looks up a previously-listed folder by its full name.
func (c *Client) Folder(fullName string) (*Folder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.registry[fullName]
	return f, ok
}

func (c *Client) forget(fullName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.registry, fullName)
}

func (c *Client) rename(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.registry[from]
	if !ok {
		return
	}
	delete(c.registry, from)
	f.FullName = to
	if f.DirectorySeparator != 0 {
		if idx := lastIndexByte(to, f.DirectorySeparator); idx >= 0 {
			f.Name = to[idx+1:]
		} else {
			f.Name = to
		}
	} else {
		f.Name = to
	}
	f.parentName = c.folderParent(to, f.DirectorySeparator)
	c.registry[to] = f
}
