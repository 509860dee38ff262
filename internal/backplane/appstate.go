package backplane

import (
	"sync"

	"github.com/mujina-miner/mujina-miner/internal/peripheral"
)

// BoardInfo is the summary an external REST layer would render for
// GET /boards.
type BoardInfo struct {
	Model        string
	SerialNumber string
}

// FailedBoardStatus is the summary an external REST layer would render
// for GET /failed_boards: a board with a stored UsbDeviceInfo but no
// live peripheral handles and no hash threads.
type FailedBoardStatus struct {
	Model        string
	SerialNumber string
	Error        string
}

// AppState is the process-scoped registry an external REST layer reads.
// The backplane is its only writer; every other reader goes through the
// exported accessor methods, which take their own lock rather than
// sharing the backplane's single-goroutine ownership discipline.
type AppState struct {
	mu                 sync.RWMutex
	boards             map[string]BoardInfo
	failedBoards       map[string]FailedBoardStatus
	voltageControllers map[string]*peripheral.Tps546
	fanControllers     map[string]*peripheral.Emc2101
}

// NewAppState returns an empty registry.
func NewAppState() *AppState {
	return &AppState{
		boards:             make(map[string]BoardInfo),
		failedBoards:       make(map[string]FailedBoardStatus),
		voltageControllers: make(map[string]*peripheral.Tps546),
		fanControllers:     make(map[string]*peripheral.Emc2101),
	}
}

func (s *AppState) RegisterBoard(serial string, info BoardInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[serial] = info
	delete(s.failedBoards, serial)
}

func (s *AppState) UnregisterBoard(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, serial)
}

func (s *AppState) RegisterFailedBoard(status FailedBoardStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedBoards[status.SerialNumber] = status
}

func (s *AppState) UnregisterFailedBoard(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failedBoards, serial)
}

func (s *AppState) RegisterVoltageController(serial string, ctrl *peripheral.Tps546) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voltageControllers[serial] = ctrl
}

func (s *AppState) UnregisterVoltageController(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voltageControllers, serial)
}

func (s *AppState) RegisterFanController(serial string, ctrl *peripheral.Emc2101) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanControllers[serial] = ctrl
}

func (s *AppState) UnregisterFanController(serial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fanControllers, serial)
}

// Boards returns a snapshot of the active board registry.
func (s *AppState) Boards() map[string]BoardInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BoardInfo, len(s.boards))
	for k, v := range s.boards {
		out[k] = v
	}
	return out
}

// FailedBoards returns a snapshot of the failed-board registry.
func (s *AppState) FailedBoards() map[string]FailedBoardStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]FailedBoardStatus, len(s.failedBoards))
	for k, v := range s.failedBoards {
		out[k] = v
	}
	return out
}

// VoltageControllerCount reports how many boards currently have a
// registered voltage controller. The backplane invariant requires this
// to equal the number of active boards with a TPS546.
func (s *AppState) VoltageControllerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.voltageControllers)
}

// VoltageController looks up a board's regulator handle, e.g. for a
// REST set-voltage endpoint.
func (s *AppState) VoltageController(serial string) (*peripheral.Tps546, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.voltageControllers[serial]
	return v, ok
}

// FanController looks up a board's fan handle.
func (s *AppState) FanController(serial string) (*peripheral.Emc2101, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fanControllers[serial]
	return v, ok
}
