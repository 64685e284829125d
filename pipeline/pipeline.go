// Package pipeline implements the manager and module contract described
// by the protocol: an ordered stack of independent transformers, each
// seeing whole byte messages, wired together by a manager that routes
// reads upward from the transport and builds downward from the
// application.
package pipeline

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("pipeline")

// Module is a single transformer in the stack. Read is called with a
// frame arriving from the module below (or, for index 0, the
// transport); Build is called with a payload arriving from the module
// above (or, for the last index, the application). Neither method
// returns a value: a module may call its bound Endpoint's
// ContinueRead/ContinueBuild zero or more times, synchronously or from
// a background goroutine.
type Module interface {
	// Bind supplies the module with its Endpoint. It is called once,
	// whenever the owning Manager's module list is (re)assigned.
	Bind(ep *Endpoint)
	Read(frame []byte)
	Build(payload []byte)
}

// Endpoint is a module's non-owning handle back into its Manager. It
// carries the module's index so continuations can be routed to the
// correct neighbor without the module needing to know its own position
// in the stack.
type Endpoint struct {
	mgr   *Manager
	index int
}

// ContinueRead advances a read to the next module up the stack (index+1).
func (e *Endpoint) ContinueRead(frame []byte) {
	e.mgr.dispatchRead(frame, e.index+1)
}

// ContinueBuild advances a build to the next module down the stack (index-1).
func (e *Endpoint) ContinueBuild(payload []byte) {
	e.mgr.dispatchBuild(payload, e.index-1)
}

// Manager owns an ordered sequence of modules and the two terminal event
// sinks. It performs no buffering, ordering, or threading of its own;
// reentrancy from concurrent callers is each module's responsibility.
type Manager struct {
	mu              sync.RWMutex
	modules         []Module
	onReadComplete  func([]byte)
	onBuildComplete func([]byte)
}

// NewManager constructs a Manager with the given terminal sinks. Either
// sink may be nil, in which case the corresponding terminal payload is
// discarded.
func NewManager(onReadComplete, onBuildComplete func([]byte)) *Manager {
	return &Manager{
		onReadComplete:  onReadComplete,
		onBuildComplete: onBuildComplete,
	}
}

// SetModules installs a new ordered module list, re-stamping each
// module's index and manager back-reference. The previously installed
// list, if any, is no longer driven by this manager.
func (m *Manager) SetModules(modules ...Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, mod := range modules {
		mod.Bind(&Endpoint{mgr: m, index: i})
	}
	m.modules = modules
}

// Read injects a frame from the transport at the bottom of the stack.
func (m *Manager) Read(frame []byte) {
	m.dispatchRead(frame, 0)
}

// Build injects a payload from the application at the top of the stack.
func (m *Manager) Build(payload []byte) {
	m.dispatchBuild(payload, m.lastIndex())
}

func (m *Manager) lastIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.modules) - 1
}

func (m *Manager) moduleAt(i int) (Module, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.modules) {
		return nil, false
	}
	return m.modules[i], true
}

func (m *Manager) dispatchRead(frame []byte, i int) {
	mod, ok := m.moduleAt(i)
	if !ok {
		if m.onReadComplete != nil {
			m.onReadComplete(frame)
		}
		return
	}
	mod.Read(frame)
}

func (m *Manager) dispatchBuild(payload []byte, i int) {
	if i < 0 {
		if m.onBuildComplete != nil {
			m.onBuildComplete(payload)
		}
		return
	}
	mod, ok := m.moduleAt(i)
	if !ok {
		log.Warnw("build index out of range", "index", i)
		return
	}
	mod.Build(payload)
}
