package models

import (
	"fmt"
	"time"
)

// DayState represents where a simulated trading day is in its processing
type DayState string

const (
	// Core states
	StateIdle            DayState = "idle"             // Day not started
	StateFetchUnderlying DayState = "fetch_underlying" // Loading the underlying's minute bars
	StateOpenDecision    DayState = "open_decision"    // Opening strategy is choosing time and legs
	StateFetchOptions    DayState = "fetch_options"    // Loading minute bars for every leg's contract
	StateDataValidate    DayState = "data_validate"    // Checking option data covers the opening minute
	StateMaterialize     DayState = "materialize"      // Filling legs at the opening minute's open price
	StateProfitTrace     DayState = "profit_trace"     // Computing per-minute would-be profit
	StateCloseDecision   DayState = "close_decision"   // Closing strategy is realizing one value
	StateAccumulate      DayState = "accumulate"       // Adding realized profit to the running total
	StateDone            DayState = "done"             // Day accounted for
	StateSkipped         DayState = "skipped"          // Day skipped because option data starts late
	StateFailed          DayState = "failed"           // Collaborator failure, fatal to the run
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        DayState
	To          DayState
	Condition   string
	Description string
}

// ValidTransitions lists every legal step of a simulated day.
var ValidTransitions = []StateTransition{
	{StateIdle, StateFetchUnderlying, "day_started", "Begin processing a trading day"},
	{StateFetchUnderlying, StateOpenDecision, "underlying_loaded", "Underlying minute bars fetched"},
	{StateOpenDecision, StateFetchOptions, "legs_chosen", "Opening strategy returned legs"},
	{StateFetchOptions, StateDataValidate, "options_loaded", "Option minute bars fetched"},
	{StateDataValidate, StateSkipped, "data_unavailable", "Option data starts after the opening minute"},
	{StateDataValidate, StateMaterialize, "data_valid", "Option data covers the opening minute"},
	{StateMaterialize, StateProfitTrace, "positions_opened", "Positions filled at opening prices"},
	{StateProfitTrace, StateCloseDecision, "trace_ready", "Per-minute profits computed"},
	{StateCloseDecision, StateAccumulate, "profit_realized", "Closing strategy realized a profit"},
	{StateAccumulate, StateDone, "accumulated", "Running total updated"},

	// Trace-only runs stop once the trace exists
	{StateProfitTrace, StateDone, "trace_only", "Trace recorded without closing"},

	// Failures from any fetching or computing state
	{StateFetchUnderlying, StateFailed, "fetch_failed", "Underlying data could not be fetched"},
	{StateOpenDecision, StateFailed, "strategy_failed", "Opening strategy rejected the day's data"},
	{StateFetchOptions, StateFailed, "fetch_failed", "Option data could not be fetched"},
	{StateMaterialize, StateFailed, "price_missing", "Opening price missing for a leg"},
	{StateProfitTrace, StateFailed, "price_missing", "Closing price missing for a leg"},
}

// StateMachine tracks one simulated day through its states
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[DayState]int
	currentState    DayState
	previousState   DayState
	lastCondition   string
}

// NewStateMachine creates a new state machine in StateIdle
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StateIdle,
		previousState:   StateIdle,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[DayState]int),
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() DayState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() DayState {
	return sm.previousState
}

// LastCondition returns the condition of the most recent transition
func (sm *StateMachine) LastCondition() string {
	return sm.lastCondition
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to DayState, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves the machine to a new state
func (sm *StateMachine) Transition(to DayState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.lastCondition = condition
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// GetTransitionTime returns when the current state was entered
func (sm *StateMachine) GetTransitionTime() time.Time {
	return sm.transitionTime
}

// IsTerminal returns true once the day is done, skipped or failed
func (sm *StateMachine) IsTerminal() bool {
	switch sm.currentState {
	case StateDone, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// GetTransitionCount returns how many times the given state was entered
func (sm *StateMachine) GetTransitionCount(state DayState) int {
	return sm.transitionCount[state]
}

// GetStateDescription returns a human-readable state description
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateIdle:
		return "Day not started"
	case StateFetchUnderlying:
		return "Fetching underlying minute bars"
	case StateOpenDecision:
		return "Choosing opening minute and legs"
	case StateFetchOptions:
		return "Fetching option minute bars"
	case StateDataValidate:
		return "Validating option data coverage"
	case StateMaterialize:
		return "Opening positions"
	case StateProfitTrace:
		return "Computing intraday profit trace"
	case StateCloseDecision:
		return "Applying closing strategy"
	case StateAccumulate:
		return "Accumulating realized profit"
	case StateDone:
		return "Day complete"
	case StateSkipped:
		return "Day skipped: incomplete option data"
	case StateFailed:
		return "Day failed"
	default:
		return "Unknown state"
	}
}
