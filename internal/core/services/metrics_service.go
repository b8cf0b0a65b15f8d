package services

import (
	"sync"

	"rillcall/internal/core/domain"
)

// MetricsService keeps call counters in memory. It is the default
// ports.CallMetrics when no Prometheus collector is wired.
type MetricsService struct {
	mu sync.RWMutex

	callsStarted     map[domain.CallDirection]int
	callsEnded       map[domain.EndReason]int
	stateChanges     map[domain.CallState]int
	totalSeconds     int64
	invitesSent      int
	inviteFailures   int
	invitesAccepted  int
	invitesDeclined  int
	mediaAcquired    int
	mediaFailures    int
	meshParticipants int
	historyWritten   int
	historyFailures  int
}

type MetricsSnapshot struct {
	CallsStarted     map[domain.CallDirection]int
	CallsEnded       map[domain.EndReason]int
	StateChanges     map[domain.CallState]int
	TotalSeconds     int64
	InvitesSent      int
	InviteFailures   int
	InvitesAccepted  int
	InvitesDeclined  int
	MediaAcquired    int
	MediaFailures    int
	MeshParticipants int
	HistoryWritten   int
	HistoryFailures  int
}

func NewMetricsService() *MetricsService {
	return &MetricsService{
		callsStarted: make(map[domain.CallDirection]int),
		callsEnded:   make(map[domain.EndReason]int),
		stateChanges: make(map[domain.CallState]int),
	}
}

func (m *MetricsService) CallStarted(direction domain.CallDirection, _ domain.CallType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callsStarted[direction]++
}

func (m *MetricsService) CallStateChanged(state domain.CallState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChanges[state]++
}

func (m *MetricsService) CallEnded(reason domain.EndReason, durationSeconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callsEnded[reason]++
	m.totalSeconds += durationSeconds
}

func (m *MetricsService) InviteSent(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.inviteFailures++
		return
	}
	m.invitesSent++
}

func (m *MetricsService) InviteReceived(accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if accepted {
		m.invitesAccepted++
		return
	}
	m.invitesDeclined++
}

func (m *MetricsService) MediaAcquired(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.mediaFailures++
		return
	}
	m.mediaAcquired++
}

func (m *MetricsService) MeshParticipants(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meshParticipants = count
}

func (m *MetricsService) HistoryWritten(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.historyFailures++
		return
	}
	m.historyWritten++
}

func (m *MetricsService) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSnapshot{
		CallsStarted:     make(map[domain.CallDirection]int, len(m.callsStarted)),
		CallsEnded:       make(map[domain.EndReason]int, len(m.callsEnded)),
		StateChanges:     make(map[domain.CallState]int, len(m.stateChanges)),
		TotalSeconds:     m.totalSeconds,
		InvitesSent:      m.invitesSent,
		InviteFailures:   m.inviteFailures,
		InvitesAccepted:  m.invitesAccepted,
		InvitesDeclined:  m.invitesDeclined,
		MediaAcquired:    m.mediaAcquired,
		MediaFailures:    m.mediaFailures,
		MeshParticipants: m.meshParticipants,
		HistoryWritten:   m.historyWritten,
		HistoryFailures:  m.historyFailures,
	}
	for k, v := range m.callsStarted {
		s.CallsStarted[k] = v
	}
	for k, v := range m.callsEnded {
		s.CallsEnded[k] = v
	}
	for k, v := range m.stateChanges {
		s.StateChanges[k] = v
	}
	return s
}
