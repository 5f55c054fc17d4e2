package sources

// All builds every source client. newClient is called once per source name
// so each source can get its own wrapped HTTP client (circuit breaker,
// timeout).
func All(newClient func(name string) Doer) []Client {
	build := []struct {
		name string
		ctor func(Doer) Client
	}{
		{"web", func(d Doer) Client { return NewWebSearch(d) }},
		{"code-host", func(d Doer) Client { return NewCodeHost(d) }},
		{"paper-archive", func(d Doer) Client { return NewPaperArchive(d) }},
		{"video", func(d Doer) Client { return NewVideoPlatform(d) }},
		{"archive", func(d Doer) Client { return NewArchiveSnapshot(d) }},
		{"books", func(d Doer) Client { return NewBookIndex(d) }},
		{"chat", func(d Doer) Client { return NewChatArchive(d) }},
	}
	clients := make([]Client, 0, len(build))
	for _, b := range build {
		clients = append(clients, b.ctor(newClient(b.name)))
	}
	return clients
}

// Filter keeps only the named clients, in the given order. Unknown names
// are ignored. An empty names list keeps everything.
func Filter(clients []Client, names []string) []Client {
	if len(names) == 0 {
		return clients
	}
	byName := make(map[string]Client, len(clients))
	for _, c := range clients {
		byName[c.Name()] = c
	}
	var out []Client
	for _, name := range names {
		if c, ok := byName[name]; ok {
			out = append(out, c)
		}
	}
	return out
}
