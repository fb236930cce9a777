package models

import "time"

// Command is an actuation sent to a tracker.
type Command string

const (
	CommandEngineOff Command = "engine_off"
	CommandEngineOn  Command = "engine_on"
	CommandLock      Command = "lock"
	CommandUnlock    Command = "unlock"
	CommandLocate    Command = "locate"
)

// IsValidCommand checks if a command is one the provider accepts
func IsValidCommand(c Command) bool {
	switch c {
	case CommandEngineOff, CommandEngineOn, CommandLock, CommandUnlock, CommandLocate:
		return true
	default:
		return false
	}
}

// CommandStatus is the state of a device's pending action.
type CommandStatus string

const (
	CommandIdle      CommandStatus = "idle"
	CommandSending   CommandStatus = "sending"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
)

// CommandRecord is the audit entry written for every dispatched command.
type CommandRecord struct {
	ID          string        `bson:"_id" json:"id"`
	IMEI        string        `bson:"imei" json:"imei"`
	Command     Command       `bson:"command" json:"command"`
	Status      CommandStatus `bson:"status" json:"status"`
	Error       string        `bson:"error,omitempty" json:"error,omitempty"`
	IssuedBy    string        `bson:"issued_by" json:"issued_by"`
	IssuedAt    time.Time     `bson:"issued_at" json:"issued_at"`
	CompletedAt time.Time     `bson:"completed_at" json:"completed_at"`
}
