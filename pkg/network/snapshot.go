package network

import (
	"fmt"
	"sort"

	"github.com/pylonengine/netsync/pkg/actors"
	"github.com/pylonengine/netsync/pkg/codec"
	"github.com/pylonengine/netsync/pkg/log"
	"github.com/pylonengine/netsync/pkg/messages"
)

// ActorSnapshot is a persistence-friendly copy of one networked actor with
// its full attribute state in wire encoding.
type ActorSnapshot struct {
	Identity   string                             `json:"identity"`
	Name       string                             `json:"name"`
	Ownership  string                             `json:"ownership"`
	Owner      uint32                             `json:"owner"`
	Components map[string]messages.ComponentAttrs `json:"components"`
}

// WorldSnapshot captures every registered actor. Call from the tick thread;
// the returned copies are safe to hand to other goroutines.
func (m *Manager) WorldSnapshot() []ActorSnapshot {
	out := make([]ActorSnapshot, 0, m.registry.Len())
	for _, na := range m.registry.All() {
		snap := ActorSnapshot{
			Identity:   na.identity,
			Name:       na.actor.Name,
			Ownership:  na.ownership.String(),
			Owner:      na.owner,
			Components: make(map[string]messages.ComponentAttrs),
		}
		for _, c := range na.actor.Components() {
			attrs := make(messages.ComponentAttrs)
			for _, attr := range c.SyncAttrs() {
				v, err := c.GetAttr(attr)
				if err != nil {
					log.Warn("Skipping unreadable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
					continue
				}
				encoded, err := codec.Encode(v)
				if err != nil {
					log.Warn("Skipping unencodable attribute %s.%s on %s: %v", c.Type(), attr, na.identity, err)
					continue
				}
				attrs[attr] = encoded
			}
			snap.Components[c.Type()] = attrs
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// RestoreActor rebuilds an actor from a snapshot and registers it under its
// original identity, owned by the local peer.
func (m *Manager) RestoreActor(snap ActorSnapshot, opts SpawnOptions) error {
	actor, err := actors.NewActor(snap.Name)
	if err != nil {
		return err
	}
	for typeName, attrs := range snap.Components {
		c, err := m.factory.New(typeName)
		if err != nil {
			return fmt.Errorf("cannot restore component: %w", err)
		}
		applyAttrs(c, attrs, snap.Identity)
		if err := actor.AddComponent(c); err != nil {
			return err
		}
	}

	opts.Identity = snap.Identity
	_, err = m.SpawnNetworked(actor, opts)
	return err
}
