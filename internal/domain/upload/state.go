// Пакет upload — конечный автомат сессии возобновляемой загрузки.
//
// Жизненный цикл: initialized → accumulating* → complete → finalized.
// Состояние не хранится отдельно, а выводится из счётчиков сессии
// (received_bytes, total_size); finalized наблюдается только
// в результате finalize, после чего запись сессии удаляется.
//
// Явного состояния "aborted" нет: брошенная клиентом сессия остаётся
// на диске до sweep устаревших сессий (если он включён).
package upload

import (
	"fmt"
)

// State — состояние сессии загрузки.
type State string

const (
	// StateInitialized — сессия создана, байты ещё не получены
	StateInitialized State = "initialized"
	// StateAccumulating — получена часть байтов
	StateAccumulating State = "accumulating"
	// StateComplete — получено не меньше total_size, ожидается finalize
	StateComplete State = "complete"
	// StateFinalized — файл переименован в итоговое имя (конечное состояние)
	StateFinalized State = "finalized"
)

// Operation — операция над сессией.
type Operation string

const (
	OpAppend   Operation = "append"
	OpFinalize Operation = "finalize"
	OpStatus   Operation = "status"
)

// validTransitions — матрица допустимых переходов.
// Последний чанк может перенести сессию за total_size, но после
// перехода в complete чанки больше не принимаются.
var validTransitions = map[State]map[State]bool{
	StateInitialized:  {StateAccumulating: true, StateComplete: true},
	StateAccumulating: {StateAccumulating: true, StateComplete: true},
	StateComplete:     {StateFinalized: true},
	StateFinalized:    {},
}

// allowedOperations — операции, допустимые в каждом состоянии.
var allowedOperations = map[State]map[Operation]bool{
	StateInitialized:  {OpAppend: true, OpStatus: true},
	StateAccumulating: {OpAppend: true, OpStatus: true},
	StateComplete:     {OpFinalize: true, OpStatus: true},
	StateFinalized:    {},
}

// StateOf выводит состояние сессии из счётчиков.
// Сессия с total_size = 0 сразу находится в complete.
func StateOf(received, total int64) State {
	switch {
	case received >= total:
		return StateComplete
	case received == 0:
		return StateInitialized
	default:
		return StateAccumulating
	}
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to State) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// CanPerform проверяет, допустима ли операция в состоянии.
func CanPerform(s State, op Operation) bool {
	ops, ok := allowedOperations[s]
	if !ok {
		return false
	}
	return ops[op]
}

// Transition проверяет переход и возвращает TransitionError, если он недопустим.
func Transition(from, to State) error {
	if !isValidState(from) || !isValidState(to) {
		return &TransitionError{
			From:    from,
			To:      to,
			Message: fmt.Sprintf("недопустимое состояние: %q → %q", from, to),
		}
	}
	if !CanTransition(from, to) {
		return &TransitionError{
			From:    from,
			To:      to,
			Message: fmt.Sprintf("переход %s → %s недопустим", from, to),
		}
	}
	return nil
}

// TransitionError — ошибка перехода между состояниями сессии.
type TransitionError struct {
	From    State
	To      State
	Message string
}

func (e *TransitionError) Error() string {
	return e.Message
}

// isValidState проверяет, является ли строка допустимым состоянием.
func isValidState(s State) bool {
	switch s {
	case StateInitialized, StateAccumulating, StateComplete, StateFinalized:
		return true
	default:
		return false
	}
}

// ParseState преобразует строку в State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !isValidState(st) {
		return "", fmt.Errorf("недопустимое состояние сессии: %q, допустимые: initialized, accumulating, complete, finalized", s)
	}
	return st, nil
}
