// ABOUTME: Typed inner QConnect messages and their body codecs
// ABOUTME: Covers everything the renderer sends (21-28) and receives (41-47, 87, 90-91)
package protocol

import "fmt"

// Playing state values on the wire.
const (
	PlayingStateStopped = 1
	PlayingStatePlaying = 2
	PlayingStatePaused  = 3
)

// Loop mode values on the wire.
const (
	LoopModeUnknown   = 0
	LoopModeOff       = 1
	LoopModeRepeatOne = 2
	LoopModeRepeatAll = 3
)

// Device type and join constants for JoinSession.
const (
	DeviceTypeSpeaker        = 1
	VolumeRemoteByController = 2
	JoinReasonNormal         = 1
)

// QueueItem identifies one entry of the controller's queue.
type QueueItem struct {
	QueueItemID uint64
	TrackID     string
}

func (q QueueItem) encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, q.QueueItemID)
	w.String(2, q.TrackID)
	return w.Finish()
}

func decodeQueueItem(body []byte) (QueueItem, error) {
	var q QueueItem
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return q, nil
		}
		var err error
		switch tag {
		case 1:
			q.QueueItemID, err = r.Uvarint()
		case 2:
			q.TrackID, err = r.String()
		default:
			return q, fmt.Errorf("protocol: queue item: unknown tag %d", tag)
		}
		if err != nil {
			return q, err
		}
	}
}

// JoinSession is the mandatory first inner message a renderer sends
// after subscribing (code 21).
type JoinSession struct {
	DeviceUUID          []byte
	FriendlyName        string
	Brand               string
	Model               string
	DeviceType          uint64
	SoftwareVersion     string
	MinAudioQuality     uint64
	MaxAudioQuality     uint64
	VolumeRemoteControl uint64
	SessionUUID         string
	Reason              uint64
	IsActive            bool
}

// Encode serializes the message body for a RawMessage.
func (m JoinSession) Encode() []byte {
	w := &fieldWriter{}
	w.Bytes(1, m.DeviceUUID)
	w.String(2, m.FriendlyName)
	w.String(3, m.Brand)
	w.String(4, m.Model)
	w.Uvarint(5, m.DeviceType)
	w.String(6, m.SoftwareVersion)
	w.Uvarint(7, m.MinAudioQuality)
	w.Uvarint(8, m.MaxAudioQuality)
	w.Uvarint(9, m.VolumeRemoteControl)
	w.String(10, m.SessionUUID)
	w.Uvarint(11, m.Reason)
	w.Bool(12, m.IsActive)
	return w.Finish()
}

// DecodeJoinSession parses a code-21 body.
func DecodeJoinSession(body []byte) (JoinSession, error) {
	var m JoinSession
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.DeviceUUID, err = r.Bytes()
		case 2:
			m.FriendlyName, err = r.String()
		case 3:
			m.Brand, err = r.String()
		case 4:
			m.Model, err = r.String()
		case 5:
			m.DeviceType, err = r.Uvarint()
		case 6:
			m.SoftwareVersion, err = r.String()
		case 7:
			m.MinAudioQuality, err = r.Uvarint()
		case 8:
			m.MaxAudioQuality, err = r.Uvarint()
		case 9:
			m.VolumeRemoteControl, err = r.Uvarint()
		case 10:
			m.SessionUUID, err = r.String()
		case 11:
			m.Reason, err = r.Uvarint()
		case 12:
			m.IsActive, err = r.Bool()
		default:
			return m, fmt.Errorf("protocol: join session: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// DeviceInfoUpdated refreshes the controller's view of the renderer's
// identity (code 22), e.g. after the sink device is resolved.
type DeviceInfoUpdated struct {
	FriendlyName string
	Brand        string
	Model        string
}

func (m DeviceInfoUpdated) Encode() []byte {
	w := &fieldWriter{}
	w.String(1, m.FriendlyName)
	w.String(2, m.Brand)
	w.String(3, m.Model)
	return w.Finish()
}

// DecodeDeviceInfoUpdated parses a code-22 body.
func DecodeDeviceInfoUpdated(body []byte) (DeviceInfoUpdated, error) {
	var m DeviceInfoUpdated
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.FriendlyName, err = r.String()
		case 2:
			m.Brand, err = r.String()
		case 3:
			m.Model, err = r.String()
		default:
			return m, fmt.Errorf("protocol: device info: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// StateUpdated is the renderer's state report (code 23), sent on the
// 5 s heartbeat and whenever the player requests one.
type StateUpdated struct {
	PlayingState        uint64
	BufferState         uint64
	PositionMs          int64
	PositionTimestampMs int64
	DurationMs          int64
	QueueItemID         uint64
	QueueVersionMajor   uint64
	QueueVersionMinor   uint64
}

func (m StateUpdated) Encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, m.PlayingState)
	w.Uvarint(2, m.BufferState)
	w.Varint(3, m.PositionMs)
	w.Varint(4, m.PositionTimestampMs)
	w.Varint(5, m.DurationMs)
	w.Uvarint(6, m.QueueItemID)
	w.Uvarint(7, m.QueueVersionMajor)
	w.Uvarint(8, m.QueueVersionMinor)
	return w.Finish()
}

// DecodeStateUpdated parses a code-23 body.
func DecodeStateUpdated(body []byte) (StateUpdated, error) {
	var m StateUpdated
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.PlayingState, err = r.Uvarint()
		case 2:
			m.BufferState, err = r.Uvarint()
		case 3:
			m.PositionMs, err = r.Varint()
		case 4:
			m.PositionTimestampMs, err = r.Varint()
		case 5:
			m.DurationMs, err = r.Varint()
		case 6:
			m.QueueItemID, err = r.Uvarint()
		case 7:
			m.QueueVersionMajor, err = r.Uvarint()
		case 8:
			m.QueueVersionMinor, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: state updated: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// VolumeChanged announces the renderer's volume (code 25 when sent,
// code 87 when a controller broadcasts one back).
type VolumeChanged struct {
	Volume uint64
}

func (m VolumeChanged) Encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, m.Volume)
	return w.Finish()
}

// DecodeVolumeChanged parses a code-25 or code-87 body.
func DecodeVolumeChanged(body []byte) (VolumeChanged, error) {
	var m VolumeChanged
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.Volume, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: volume changed: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// FileAudioQualityChanged announces the true quality of the file the
// renderer is playing (code 26). The server may have returned a lower
// quality than requested; this tells the controller what it actually got.
type FileAudioQualityChanged struct {
	QueueItemID  uint64
	AudioQuality uint64 // protocol value, see internal/quality
	SampleRate   uint64
	BitDepth     uint64
	Channels     uint64
}

func (m FileAudioQualityChanged) Encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, m.QueueItemID)
	w.Uvarint(2, m.AudioQuality)
	w.Uvarint(3, m.SampleRate)
	w.Uvarint(4, m.BitDepth)
	w.Uvarint(5, m.Channels)
	return w.Finish()
}

// DecodeFileAudioQualityChanged parses a code-26 body.
func DecodeFileAudioQualityChanged(body []byte) (FileAudioQualityChanged, error) {
	var m FileAudioQualityChanged
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.QueueItemID, err = r.Uvarint()
		case 2:
			m.AudioQuality, err = r.Uvarint()
		case 3:
			m.SampleRate, err = r.Uvarint()
		case 4:
			m.BitDepth, err = r.Uvarint()
		case 5:
			m.Channels, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: file quality changed: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// AudioQualityChanged carries a bare quality value; used for both
// DeviceAudioQualityChanged (27) and MaxAudioQualityChanged (28).
type AudioQualityChanged struct {
	AudioQuality uint64
}

func (m AudioQualityChanged) Encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, m.AudioQuality)
	return w.Finish()
}

// DecodeAudioQualityChanged parses a code-27, 28 or 44 body.
func DecodeAudioQualityChanged(body []byte) (AudioQualityChanged, error) {
	var m AudioQualityChanged
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.AudioQuality, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: quality changed: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// SetState is the controller's combined transport command (code 41).
type SetState struct {
	CurrentQueueItem *QueueItem
	NextQueueItem    *QueueItem
	PositionMs       int64
	PlayingState     uint64
}

func (m SetState) Encode() []byte {
	w := &fieldWriter{}
	if m.CurrentQueueItem != nil {
		w.Bytes(1, m.CurrentQueueItem.encode())
	}
	if m.NextQueueItem != nil {
		w.Bytes(2, m.NextQueueItem.encode())
	}
	w.Varint(3, m.PositionMs)
	w.Uvarint(4, m.PlayingState)
	return w.Finish()
}

// DecodeSetState parses a code-41 body.
func DecodeSetState(body []byte) (SetState, error) {
	var m SetState
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1, 2:
			var nested []byte
			nested, err = r.Bytes()
			if err == nil {
				var item QueueItem
				item, err = decodeQueueItem(nested)
				if err == nil {
					if tag == 1 {
						m.CurrentQueueItem = &item
					} else {
						m.NextQueueItem = &item
					}
				}
			}
		case 3:
			m.PositionMs, err = r.Varint()
		case 4:
			m.PlayingState, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: set state: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// SetVolume carries either an absolute target or a signed delta
// (code 42). Absolute distinguishes volume 0 from "delta only".
type SetVolume struct {
	Absolute bool
	Volume   int64
	Delta    int64
}

func (m SetVolume) Encode() []byte {
	w := &fieldWriter{}
	w.Bool(1, m.Absolute)
	w.Varint(2, m.Volume)
	w.Varint(3, m.Delta)
	return w.Finish()
}

// DecodeSetVolume parses a code-42 body.
func DecodeSetVolume(body []byte) (SetVolume, error) {
	var m SetVolume
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.Absolute, err = r.Bool()
		case 2:
			m.Volume, err = r.Varint()
		case 3:
			m.Delta, err = r.Varint()
		default:
			return m, fmt.Errorf("protocol: set volume: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// Flag carries a single boolean; used for SetActive (43) and
// SetAutoplayMode (47).
type Flag struct {
	Enabled bool
}

func (m Flag) Encode() []byte {
	w := &fieldWriter{}
	w.Bool(1, m.Enabled)
	return w.Finish()
}

// DecodeFlag parses a single-boolean body.
func DecodeFlag(body []byte) (Flag, error) {
	var m Flag
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.Enabled, err = r.Bool()
		default:
			return m, fmt.Errorf("protocol: flag: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// SetLoopMode selects a repeat mode (code 45).
type SetLoopMode struct {
	LoopMode uint64
}

func (m SetLoopMode) Encode() []byte {
	w := &fieldWriter{}
	w.Uvarint(1, m.LoopMode)
	return w.Finish()
}

// DecodeSetLoopMode parses a code-45 body.
func DecodeSetLoopMode(body []byte) (SetLoopMode, error) {
	var m SetLoopMode
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.LoopMode, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: set loop mode: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// SetShuffleMode toggles shuffle, optionally pivoting on a queue item
// so the current track keeps playing (code 46).
type SetShuffleMode struct {
	Enabled          bool
	PivotQueueItemID uint64
}

func (m SetShuffleMode) Encode() []byte {
	w := &fieldWriter{}
	w.Bool(1, m.Enabled)
	w.Uvarint(2, m.PivotQueueItemID)
	return w.Finish()
}

// DecodeSetShuffleMode parses a code-46 body.
func DecodeSetShuffleMode(body []byte) (SetShuffleMode, error) {
	var m SetShuffleMode
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			m.Enabled, err = r.Bool()
		case 2:
			m.PivotQueueItemID, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: set shuffle mode: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}

// QueueState replaces the renderer's queue with the controller's full
// queue description (code 90). QueueLoadTracks (91) shares the shape
// but addresses the starting track by position rather than item id.
type QueueState struct {
	Items              []QueueItem
	VersionMajor       uint64
	VersionMinor       uint64
	CurrentQueueItemID uint64
	QueuePosition      uint64 // QueueLoadTracks only
}

func (m QueueState) Encode() []byte {
	w := &fieldWriter{}
	for _, item := range m.Items {
		w.Bytes(1, item.encode())
	}
	w.Uvarint(2, m.VersionMajor)
	w.Uvarint(3, m.VersionMinor)
	w.Uvarint(4, m.CurrentQueueItemID)
	w.Uvarint(5, m.QueuePosition)
	return w.Finish()
}

// DecodeQueueState parses a code-90 or code-91 body.
func DecodeQueueState(body []byte) (QueueState, error) {
	var m QueueState
	r := newFieldReader(body)
	for {
		tag, ok := r.Tag()
		if !ok {
			return m, nil
		}
		var err error
		switch tag {
		case 1:
			var nested []byte
			nested, err = r.Bytes()
			if err == nil {
				var item QueueItem
				item, err = decodeQueueItem(nested)
				if err == nil {
					m.Items = append(m.Items, item)
				}
			}
		case 2:
			m.VersionMajor, err = r.Uvarint()
		case 3:
			m.VersionMinor, err = r.Uvarint()
		case 4:
			m.CurrentQueueItemID, err = r.Uvarint()
		case 5:
			m.QueuePosition, err = r.Uvarint()
		default:
			return m, fmt.Errorf("protocol: queue state: unknown tag %d", tag)
		}
		if err != nil {
			return m, err
		}
	}
}
