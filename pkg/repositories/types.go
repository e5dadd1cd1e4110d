package repositories

// ActorRecord is one persisted networked actor. Attrs is the JSON encoding
// of the actor's component attributes in their wire representation.
type ActorRecord struct {
	Identity  string
	Name      string
	Ownership string
	Owner     uint32
	UpdatedAt int64
	Attrs     []byte
}
