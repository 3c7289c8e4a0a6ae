package ingest

import "fmt"

// State 入库流程的状态
type State string

const (
	StateReceived  State = "received"
	StateExtracted State = "extracted"
	StateSplit     State = "split"
	StateEmbedded  State = "embedded"
	StateUpserted  State = "upserted"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// next 每个状态唯一合法的后继状态，Failed可由任意非终止状态到达
var next = map[State]State{
	StateReceived:  StateExtracted,
	StateExtracted: StateSplit,
	StateSplit:     StateEmbedded,
	StateEmbedded:  StateUpserted,
	StateUpserted:  StateDone,
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// canTransition 检查状态转换是否合法
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}

// machine 单次入库的状态机
type machine struct {
	state    State
	observer func(from, to State)
}

func newMachine(observer func(from, to State)) *machine {
	return &machine{state: StateReceived, observer: observer}
}

// advance 推进到下一个状态，非法转换说明流程编排有误
func (m *machine) advance(to State) {
	if !canTransition(m.state, to) {
		panic(fmt.Sprintf("ingest: illegal state transition %s -> %s", m.state, to))
	}
	from := m.state
	m.state = to
	if m.observer != nil {
		m.observer(from, to)
	}
}
