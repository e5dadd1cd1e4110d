package network

import (
	"fmt"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/scheduler"
)

// netActor is the replication state the manager keeps per networked actor.
type netActor struct {
	identity  string
	actor     *actors.Actor
	ownership Ownership
	owner     uint32
	policy    *SyncPolicy
	tier      scheduler.Tier

	// lastSent holds the encoded bytes last transmitted per component and
	// attribute, the baseline for dirty detection.
	lastSent  map[string]map[string][]byte
	forceSync bool

	// claimTick is the update cycle in which the identity was claimed,
	// used to break spawn races inside one dispatch window.
	claimTick uint64
}

func (n *netActor) markSent(component, attr string, encoded []byte) {
	attrs, ok := n.lastSent[component]
	if !ok {
		attrs = make(map[string][]byte)
		n.lastSent[component] = attrs
	}
	attrs[attr] = encoded
}

func (n *netActor) sentBytes(component, attr string) ([]byte, bool) {
	attrs, ok := n.lastSent[component]
	if !ok {
		return nil, false
	}
	b, ok := attrs[attr]
	return b, ok
}

// Registry is the bidirectional mapping between network identities and live
// actors. It is driven from the tick thread only.
type Registry struct {
	byIdentity map[string]*netActor
	byActor    map[*actors.Actor]string
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]*netActor),
		byActor:    make(map[*actors.Actor]string),
	}
}

// Register binds an identity to an actor. The identity must be unused and
// the actor must not already be registered under another identity.
func (r *Registry) Register(na *netActor) error {
	if na.identity == "" {
		return fmt.Errorf("network identity is empty")
	}
	if _, exists := r.byIdentity[na.identity]; exists {
		return fmt.Errorf("identity %s is already registered", na.identity)
	}
	if existing, exists := r.byActor[na.actor]; exists {
		return fmt.Errorf("actor %q is already registered as %s", na.actor.Name, existing)
	}
	r.byIdentity[na.identity] = na
	r.byActor[na.actor] = na.identity
	return nil
}

// Resolve returns the replication state for an identity.
func (r *Registry) Resolve(identity string) (*netActor, bool) {
	na, ok := r.byIdentity[identity]
	return na, ok
}

// IdentityOf returns the identity an actor is registered under.
func (r *Registry) IdentityOf(actor *actors.Actor) (string, bool) {
	identity, ok := r.byActor[actor]
	return identity, ok
}

// Unregister removes an identity binding. Unknown identities are a no-op.
func (r *Registry) Unregister(identity string) {
	na, ok := r.byIdentity[identity]
	if !ok {
		return
	}
	delete(r.byIdentity, identity)
	delete(r.byActor, na.actor)
}

// replace swaps the binding for an identity with a new claim. Used when a
// spawn race is decided against the earlier claimant.
func (r *Registry) replace(na *netActor) {
	r.Unregister(na.identity)
	r.byIdentity[na.identity] = na
	r.byActor[na.actor] = na.identity
}

// All returns every replication state in unspecified order.
func (r *Registry) All() []*netActor {
	out := make([]*netActor, 0, len(r.byIdentity))
	for _, na := range r.byIdentity {
		out = append(out, na)
	}
	return out
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	return len(r.byIdentity)
}
