package network

// Ownership says which peer may mutate a networked actor.
type Ownership int

const (
	// ServerOwned actors are simulated by the server and mirrored on clients.
	ServerOwned Ownership = iota
	// ClientOwned actors are simulated by one client and mirrored everywhere
	// else, including the server.
	ClientOwned
	// LocalOnly actors have a network identity but never produce traffic.
	LocalOnly
)

func (o Ownership) String() string {
	switch o {
	case ServerOwned:
		return "server"
	case ClientOwned:
		return "client"
	case LocalOnly:
		return "local"
	default:
		return "unknown"
	}
}

func parseOwnership(s string) (Ownership, bool) {
	switch s {
	case "server":
		return ServerOwned, true
	case "client":
		return ClientOwned, true
	case "local":
		return LocalOnly, true
	default:
		return 0, false
	}
}

// PolicyMode selects how a SyncPolicy interprets its entries.
type PolicyMode int

const (
	// Blacklist shares everything except the listed components/attributes.
	Blacklist PolicyMode = iota
	// Whitelist shares only the listed components/attributes.
	Whitelist
)

// SyncPolicy filters which component attributes of an actor travel over the
// network. The zero-value policy is an empty blacklist: everything is shared.
type SyncPolicy struct {
	mode    PolicyMode
	entries map[string]map[string]bool
}

// NewBlacklist creates a policy that shares everything except what Exclude
// names.
func NewBlacklist() *SyncPolicy {
	return &SyncPolicy{mode: Blacklist, entries: make(map[string]map[string]bool)}
}

// NewWhitelist creates a policy that shares only what Include names.
func NewWhitelist() *SyncPolicy {
	return &SyncPolicy{mode: Whitelist, entries: make(map[string]map[string]bool)}
}

// Exclude blocks a component, or specific attributes of it, under a
// blacklist. With no attrs the whole component is blocked.
func (p *SyncPolicy) Exclude(component string, attrs ...string) *SyncPolicy {
	p.add(component, attrs)
	return p
}

// Include permits a component, or specific attributes of it, under a
// whitelist. With no attrs the whole component is permitted.
func (p *SyncPolicy) Include(component string, attrs ...string) *SyncPolicy {
	p.add(component, attrs)
	return p
}

func (p *SyncPolicy) add(component string, attrs []string) {
	if p.entries == nil {
		p.entries = make(map[string]map[string]bool)
	}
	set, ok := p.entries[component]
	if !ok {
		set = make(map[string]bool)
		p.entries[component] = set
	}
	for _, a := range attrs {
		set[a] = true
	}
}

// Allows reports whether the given component attribute may be shared.
func (p *SyncPolicy) Allows(component, attr string) bool {
	if p == nil {
		return true
	}
	set, listed := p.entries[component]
	switch p.mode {
	case Whitelist:
		if !listed {
			return false
		}
		return len(set) == 0 || set[attr]
	default:
		if !listed {
			return true
		}
		// A component entry with no attributes blocks the whole component.
		return len(set) != 0 && !set[attr]
	}
}
