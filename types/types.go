package types

// SearchResult is one hit of a title search.
type SearchResult struct {
	ID    string
	Slug  string
	Title string
}

// Anime describes a title page.
type Anime struct {
	ID       string
	Slug     string
	Title    string
	URL      string
	Episodes []Episode
}

// Episode describes one episode link.
type Episode struct {
	Number int
	Title  string
	Slug   string
	URL    string
}

// Stream describes a playable source for an episode.
type Stream struct {
	URL     string
	Quality string
	Fansub  string
	// Player is the hosting player name as shown on the site (Alucard, Sibnet, ...).
	Player string
	// Kind is "direct", "hls" or "embed".
	Kind string
}
