package railflow

import (
	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// Patch is a partial update of one wagon record, keyed by event id.
type Patch = domain.Patch

// EventRecord is a stored wagon record as handed to the display feed.
type EventRecord = domain.EventRecord

// Message is one outbound feed message (car_event, car_no, wheel_status, car_update).
type Message = domain.Message

// Detection is one vision verdict from the number camera.
type Detection = domain.Detection

// Level is one acoustic reading for a zone.
type Level = domain.Level

// WheelReport is one axle observation from a station.
type WheelReport = domain.WheelReport

// Station identifies a side of the track.
type Station = domain.Station

const (
	StationWS = domain.StationWS
	StationDS = domain.StationDS
)

// Collector pushes acoustic levels into the runtime (OPC UA, simulators, etc.).
type Collector = ports.Collector

// Store is the completion store the journal writes into and the poller reads from.
type Store = ports.Store

// Sink receives batches of patches.
type Sink = ports.Sink

// Feed receives outbound messages. Publish must not block.
type Feed = ports.Feed

// ImageStore persists camera frames.
type ImageStore = ports.ImageStore

// FrameSource returns the latest frame of a camera.
type FrameSource = ports.FrameSource

// PatchQueue is the bounded queue between the WAL and the store.
type PatchQueue = ports.PatchQueue

// QueuedPatch is an item buffered inside the PatchQueue.
type QueuedPatch = ports.QueuedPatch

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// WAL abstracts the write-ahead log used for durability and crash recovery.
type WAL = ports.WAL

type (
	WALStats        = ports.WALStats
	WALEntryID      = ports.WALEntryID
	FinalizeCutoffs = ports.FinalizeCutoffs
)
