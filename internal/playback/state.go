// Chronoscope - Live Telemetry Streaming and Playback Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronoscope

package playback

import (
	"fmt"
	"time"

	"github.com/tomtom215/chronoscope/internal/registry"
)

// Status is the playback state machine position. Values match the wire encoding.
type Status uint8

const (
	StatusPlaying Status = 0
	StatusPaused  Status = 1
	StatusEnded   Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Command is the play/pause intent carried by a control request.
type Command uint8

const (
	CommandPlay  Command = 0
	CommandPause Command = 1
)

func (c Command) String() string {
	switch c {
	case CommandPlay:
		return "play"
	case CommandPause:
		return "pause"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// ControlRequest is a client request to change playback.
type ControlRequest struct {
	Command   Command
	Speed     float64
	SeekTime  *uint64
	RequestID string
}

// State is a snapshot of a playback session.
type State struct {
	Status      Status  `json:"status"`
	CurrentTime uint64  `json:"currentTime"`
	Speed       float64 `json:"playbackSpeed"`
	DidSeek     bool    `json:"didSeek"`
	RequestID   string  `json:"requestId,omitempty"`
}

// Emitter receives the frames a playback session produces. Methods are
// called with the controller lock held and must not block.
type Emitter interface {
	EmitMessage(ch registry.ChannelID, logTime uint64, payload []byte)
	EmitTime(t uint64)
	EmitPlaybackState(st State)
}

// StepKind classifies the outcome of Source.AdvanceOrWait.
type StepKind uint8

const (
	// StepIdle means there is nothing to do until state changes.
	StepIdle StepKind = iota
	// StepWait means the next record is due after Step.Wait.
	StepWait
	// StepContinue means a record was committed or skipped; call again now.
	StepContinue
	// StepEnded means the source just reached end of data.
	StepEnded
)

// Step is the result of one AdvanceOrWait call.
type Step struct {
	Kind StepKind
	Wait time.Duration
}

// Idle reports whether the caller has no work to do.
func (s Step) Idle() bool { return s.Kind == StepIdle || s.Kind == StepEnded }
