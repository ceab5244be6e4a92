package queue

import "strings"

// Action is an operator decision about the chat at hand
type Action string

const (
	ActionDone     Action = "done"
	ActionPostpone Action = "postpone"
	ActionTask     Action = "task"
)

// ParseAction accepts an action name case-insensitively
func ParseAction(raw string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActionDone, ActionPostpone, ActionTask:
		return a, true
	}
	return "", false
}

// MovesToTail reports whether the action keeps the chat queued at the tail
func (a Action) MovesToTail() bool {
	return a == ActionPostpone || a == ActionTask
}
