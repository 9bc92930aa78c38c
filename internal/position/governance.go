package position

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/vaulterr"
	"context"
)

// ProposeVenue starts the timelock for switching to a registered venue.
func (m *Manager) ProposeVenue(id string) (governance.Proposal[string], error) {
	if _, ok := m.venues[id]; !ok {
		return governance.Proposal[string]{}, vaulterr.New("propose hedge_venue", vaulterr.ErrInvalidParameter, "venue %q not registered", id)
	}
	if id == m.venueID {
		return governance.Proposal[string]{}, vaulterr.New("propose hedge_venue", vaulterr.ErrInvalidParameter, "venue %q already active", id)
	}
	return m.venueLock.Propose(m.now(), id)
}

func (m *Manager) CancelVenue() error {
	return m.venueLock.Cancel()
}

// ExecuteVenue switches venues once the timelock has elapsed. The position
// must be flat: collateral cannot be moved between venues in place.
func (m *Manager) ExecuteVenue(ctx context.Context) (string, error) {
	id, err := m.venueLock.Execute(m.now())
	if err != nil {
		return "", err
	}
	if err := m.Resync(ctx); err != nil {
		return "", err
	}
	if m.notional != 0 || m.collateral != 0 {
		return "", vaulterr.New("execute hedge_venue", vaulterr.ErrPositionOpen,
			"close position (%d notional) before switching venue", m.notional)
	}

	hv, ok := m.venues[id]
	if !ok {
		return "", vaulterr.New("execute hedge_venue", vaulterr.ErrInvalidParameter, "venue %q no longer registered", id)
	}
	previous := m.venueID
	m.venue, m.venueID = hv, id
	m.venueLock.Commit()
	if err := m.Resync(ctx); err != nil {
		return "", err
	}
	m.logger.Info().Str("from", previous).Str("to", id).Msg("hedge venue switched")
	return id, nil
}

func (m *Manager) VenueProposal() governance.Proposal[string] {
	return m.venueLock.Current()
}

// Snapshot is the serializable state of a Manager.
type Snapshot struct {
	VenueID    string                      `json:"venue_id"`
	Notional   int64                       `json:"notional"`
	Collateral int64                       `json:"collateral"`
	Status     Status                      `json:"status"`
	VenueLock  governance.Snapshot[string] `json:"venue_lock"`
}

func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		VenueID:    m.venueID,
		Notional:   m.notional,
		Collateral: m.collateral,
		Status:     m.status,
		VenueLock:  m.venueLock.Snapshot(),
	}
}

// Restore loads a snapshot. An unknown venue id keeps the current venue.
func (m *Manager) Restore(s Snapshot) {
	if hv, ok := m.venues[s.VenueID]; ok {
		m.venue, m.venueID = hv, s.VenueID
	}
	m.notional = s.Notional
	m.collateral = s.Collateral
	m.status = s.Status
	m.venueLock.Restore(s.VenueLock)
}
