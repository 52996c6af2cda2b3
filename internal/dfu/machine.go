package dfu

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// Update procedure states. Failed is absorbing and reachable from every
// step; Done only via the activate command.
const (
	StateIdle                = "idle"
	StateStarting            = "starting"
	StateAwaitingSizeAck     = "awaiting_size_ack"
	StateSendingInit         = "sending_init"
	StateAwaitingInitAck     = "awaiting_init_ack"
	StateConfiguringPRN      = "configuring_prn"
	StateUploading           = "uploading"
	StateAwaitingUploadAck   = "awaiting_upload_ack"
	StateValidating          = "validating"
	StateAwaitingValidateAck = "awaiting_validate_ack"
	StateActivating          = "activating"
	StateDone                = "done"
	StateFailed              = "failed"
)

const (
	eventStart         = "start"
	eventAnnounceSize  = "announce_size"
	eventSizeAcked     = "size_acked"
	eventInitSent      = "init_sent"
	eventInitAcked     = "init_acked"
	eventPRNConfigured = "prn_configured"
	eventUploaded      = "uploaded"
	eventUploadAcked   = "upload_acked"
	eventValidateSent  = "validate_sent"
	eventValidateAcked = "validate_acked"
	eventActivated     = "activated"
	eventFail          = "fail"
)

const (
	defaultAckTimeout = 30 * time.Second

	// startAckTimeout is extended because the device verifies (and may
	// erase) the flash area before acknowledging the size announcement.
	startAckTimeout = 60 * time.Second
)

// Machine sequences the control-point commands of one update session.
// It owns the session lifecycle: correlator and streamer are created
// fresh with it and discarded with it.
type Machine struct {
	fsm    *fsm.FSM
	link   Link
	corr   *Correlator
	stream *Streamer
	sess   *Session
	obs    Observer
}

func NewMachine(link Link, sess *Session, obs Observer) *Machine {
	m := &Machine{
		link: link,
		sess: sess,
		obs:  obs,
	}
	m.corr = NewCorrelator(obs)
	m.stream = NewStreamer(link, m.corr, obs)

	live := []string{
		StateIdle, StateStarting, StateAwaitingSizeAck, StateSendingInit,
		StateAwaitingInitAck, StateConfiguringPRN, StateUploading,
		StateAwaitingUploadAck, StateValidating, StateAwaitingValidateAck,
		StateActivating,
	}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateStarting},
			{Name: eventAnnounceSize, Src: []string{StateStarting}, Dst: StateAwaitingSizeAck},
			{Name: eventSizeAcked, Src: []string{StateAwaitingSizeAck}, Dst: StateSendingInit},
			{Name: eventInitSent, Src: []string{StateSendingInit}, Dst: StateAwaitingInitAck},
			{Name: eventInitAcked, Src: []string{StateAwaitingInitAck}, Dst: StateConfiguringPRN},
			{Name: eventPRNConfigured, Src: []string{StateConfiguringPRN}, Dst: StateUploading},
			{Name: eventUploaded, Src: []string{StateUploading}, Dst: StateAwaitingUploadAck},
			{Name: eventUploadAcked, Src: []string{StateAwaitingUploadAck}, Dst: StateValidating},
			{Name: eventValidateSent, Src: []string{StateValidating}, Dst: StateAwaitingValidateAck},
			{Name: eventValidateAcked, Src: []string{StateAwaitingValidateAck}, Dst: StateActivating},
			{Name: eventActivated, Src: []string{StateActivating}, Dst: StateDone},
			{Name: eventFail, Src: live, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_" + StateFailed: func(ctx context.Context, e *fsm.Event) {
				if len(e.Args) > 0 {
					m.obs.Debugf("update failed in state %s: %v", e.Src, e.Args[0])
				}
			},
		},
	)
	return m
}

// State returns the current procedure state.
func (m *Machine) State() string {
	return m.fsm.Current()
}

func (m *Machine) advance(ctx context.Context, event string) {
	if err := m.fsm.Event(ctx, event); err != nil {
		m.obs.Debugf("fsm: %s: %v", event, err)
	}
}

func (m *Machine) fail(ctx context.Context, err error) error {
	if ferr := m.fsm.Event(ctx, eventFail, err); ferr != nil {
		m.obs.Debugf("fsm: fail: %v", ferr)
	}
	return err
}

// Run executes the full update sequence on the machine's link. The
// context deadline bounds every wait inside.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.link.Subscribe(m.corr.OnNotification); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: subscribe control point: %v", ErrTransport, err))
	}

	img := m.sess.Package.Image

	// Start DFU, then announce the image size on the data channel.
	m.advance(ctx, eventStart)
	m.obs.Debugf(">> tx start dfu")
	if err := m.link.WriteControl(StartCommand()); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: start command: %v", ErrTransport, err))
	}
	if m.sess.StartDelay > 0 {
		m.obs.Debugf("pausing %s for device state switch...", m.sess.StartDelay)
		if err := sleep(ctx, m.sess.StartDelay); err != nil {
			return m.fail(ctx, procTimeout(err))
		}
	}
	m.obs.Infof("Sending size: %d bytes", len(img))
	if err := m.link.WritePacket(sizePacket(len(img))); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: size packet: %v", ErrTransport, err))
	}
	m.advance(ctx, eventAnnounceSize)
	if err := m.corr.AwaitResponse(ctx, OpStartDFU, startAckTimeout); err != nil {
		m.obs.Warnf("Start DFU failed (%v). Resetting...", err)
		if rerr := m.link.WriteControl(ResetCommand()); rerr != nil {
			m.obs.Debugf("reset after failed start: %v", rerr)
		}
		return m.fail(ctx, fmt.Errorf("%w: %v", ErrStartUpdate, err))
	}
	m.advance(ctx, eventSizeAcked)

	// Init packet: begin marker, metadata blob, end marker.
	m.obs.Infof("Sending init packet...")
	if err := m.link.WriteControl(initCommand(initPacketBegin)); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: init begin: %v", ErrTransport, err))
	}
	if err := m.link.WritePacket(m.sess.Package.InitPacket); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: init data: %v", ErrTransport, err))
	}
	if err := m.link.WriteControl(initCommand(initPacketEnd)); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: init end: %v", ErrTransport, err))
	}
	m.advance(ctx, eventInitSent)
	if err := m.corr.AwaitResponse(ctx, OpInitDFUParams, defaultAckTimeout); err != nil {
		return m.fail(ctx, fmt.Errorf("init packet: %w", err))
	}
	m.advance(ctx, eventInitAcked)

	if m.sess.PRN > 0 {
		m.obs.Infof("Configuring PRN: %d", m.sess.PRN)
		if err := m.link.WriteControl(prnCommand(m.sess.PRN)); err != nil {
			return m.fail(ctx, fmt.Errorf("%w: prn request: %v", ErrTransport, err))
		}
	}
	m.advance(ctx, eventPRNConfigured)

	m.obs.Infof("Requesting upload...")
	if err := m.link.WriteControl([]byte{OpReceiveFirmwareImage}); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: receive image command: %v", ErrTransport, err))
	}
	if err := m.stream.Stream(ctx, m.sess); err != nil {
		return m.fail(ctx, err)
	}
	m.advance(ctx, eventUploaded)

	m.obs.Infof("Verifying upload...")
	if err := m.corr.AwaitResponse(ctx, OpReceiveFirmwareImage, defaultAckTimeout); err != nil {
		return m.fail(ctx, fmt.Errorf("upload: %w", err))
	}
	m.advance(ctx, eventUploadAcked)

	m.obs.Infof("Validating...")
	if err := m.link.WriteControl([]byte{OpValidate}); err != nil {
		return m.fail(ctx, fmt.Errorf("%w: validate command: %v", ErrTransport, err))
	}
	m.advance(ctx, eventValidateSent)
	if err := m.corr.AwaitResponse(ctx, OpValidate, defaultAckTimeout); err != nil {
		return m.fail(ctx, fmt.Errorf("validation: %w", err))
	}
	m.advance(ctx, eventValidateAcked)

	m.obs.Infof("Activating & resetting...")
	if err := m.link.WriteControl([]byte{OpActivateAndReset}); err != nil {
		// The device reboots into the new image immediately and usually
		// drops the connection before the write completes.
		m.obs.Debugf("activate write ended: %v", err)
	}
	m.advance(ctx, eventActivated)
	return nil
}
