package model

import (
	"strconv"
	"time"
)

// Temperature in tenths of a degree celsius.
type Temperature int16

func (t Temperature) Celsius() float64 {
	return float64(t) / 10
}

func (t Temperature) String() string {
	return strconv.FormatFloat(t.Celsius(), 'f', 1, 64)
}

type SyncResult string

func (r SyncResult) String() string {
	return string(r)
}

const (
	SyncSuccess          SyncResult = "success"
	SyncTimeout          SyncResult = "timeout"
	SyncConnectionFailed SyncResult = "connection_failed"
	SyncProtocolMismatch SyncResult = "protocol_mismatch"
	SyncWriteFailed      SyncResult = "write_failed"
)

type SyncEventKind string

func (k SyncEventKind) String() string {
	return string(k)
}

const (
	EventDiscovered     SyncEventKind = "discovered"
	EventConnecting     SyncEventKind = "connecting"
	EventQueryService   SyncEventKind = "query_service"
	EventQueryCharacter SyncEventKind = "query_characteristic"
	EventAdjustClock    SyncEventKind = "adjust_clock"
	EventSynced         SyncEventKind = "synced"
	EventFailed         SyncEventKind = "failed"
	EventRetry          SyncEventKind = "retry"
	EventOmitted        SyncEventKind = "omitted"
)

// SyncEvent is a human readable progress line for one device.
type SyncEvent struct {
	Address DeviceAddress `json:"address"`
	Name    string        `json:"name"`
	Kind    SyncEventKind `json:"kind"`
	Message string        `json:"message"`
	Error   bool          `json:"error"`
	Time    time.Time     `json:"time"`
}
