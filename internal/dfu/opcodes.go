package dfu

import "encoding/binary"

// Control-point opcodes for the legacy DFU protocol. Commands go out on
// the control point; 0x10/0x11 come back as notifications.
const (
	OpStartDFU              byte = 0x01
	OpInitDFUParams         byte = 0x02
	OpReceiveFirmwareImage  byte = 0x03
	OpValidate              byte = 0x04
	OpActivateAndReset      byte = 0x05
	OpReset                 byte = 0x06
	OpPacketReceiptNotifReq byte = 0x08
	OpResponse              byte = 0x10
	OpPacketReceiptNotif    byte = 0x11
)

// UploadModeApplication selects an application image in the start command.
const UploadModeApplication byte = 0x04

// StatusSuccess is the only success status the control point reports.
const StatusSuccess byte = 0x01

const (
	initPacketBegin byte = 0x00
	initPacketEnd   byte = 0x01
)

// StartCommand enters (or begins) application-image DFU. The same
// two bytes double as the buttonless jump command in application mode.
func StartCommand() []byte {
	return []byte{OpStartDFU, UploadModeApplication}
}

// ResetCommand aborts the procedure and reboots the device.
func ResetCommand() []byte {
	return []byte{OpReset}
}

func initCommand(phase byte) []byte {
	return []byte{OpInitDFUParams, phase}
}

func prnCommand(interval uint16) []byte {
	buf := []byte{OpPacketReceiptNotifReq, 0, 0}
	binary.LittleEndian.PutUint16(buf[1:], interval)
	return buf
}

// sizePacket encodes the (softdevice, bootloader, application) size
// triple sent on the data channel after the start command. Only the
// application slot is used in this mode.
func sizePacket(appSize int) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[8:], uint32(appSize))
	return buf
}
