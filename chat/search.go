package chat

import "github.com/sahilm/fuzzy"

// SearchChats fuzzy-matches query against chat titles and returns the
// matching chats in relevance order. An empty query returns every chat
// in list order.
func (s *Store) SearchChats(query string) []Chat {
	chats := s.Chats()
	if query == "" {
		return chats
	}

	targets := make([]string, len(chats))
	for i, c := range chats {
		targets[i] = c.Title
	}

	matches := fuzzy.Find(query, targets)
	results := make([]Chat, len(matches))
	for i, match := range matches {
		results[i] = chats[match.Index]
	}
	return results
}
