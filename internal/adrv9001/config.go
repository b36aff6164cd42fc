package adrv9001

import (
	"encoding/binary"
	"time"

	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// ConfigWrite loads armData into the SET mailbox and issues SET with
// mailboxCmd as extended bytes. mailboxCmd is conventionally
// [channelMask, OBJID_GS_CONFIG, objectID, ...].
func (d *Device) ConfigWrite(armData []byte, mailboxCmd []byte) error {
	return d.record(d.configWrite(armData, mailboxCmd))
}

func (d *Device) configWrite(armData []byte, mailboxCmd []byte) error {
	const op = "config write"
	if len(mailboxCmd) < 2 || len(mailboxCmd) > regs.ExtCmdBytes {
		return paramError(op, "mailbox command must be 2 to %d bytes, got %d", regs.ExtCmdBytes, len(mailboxCmd))
	}
	objectID := regs.ObjectID(mailboxCmd[1])
	if objectID == regs.ObjIDGsConfig && len(mailboxCmd) > 2 {
		objectID = regs.ObjectID(mailboxCmd[2])
	}
	return d.setObject(op, regs.MailboxSet, armData, mailboxCmd, objectID, d.timeouts.Default)
}

// ConfigRead issues GET for objectID on the channels in channelMask and
// copies len(out) bytes of the result, starting at byteOffset, into out.
func (d *Device) ConfigRead(objectID regs.ObjectID, channelMask uint8, byteOffset uint16, out []byte) error {
	return d.record(d.configRead(objectID, channelMask, byteOffset, out))
}

func (d *Device) configRead(objectID regs.ObjectID, channelMask uint8, byteOffset uint16, out []byte) error {
	release, err := d.lease("config read")
	if err != nil {
		return err
	}
	defer release()
	return d.configReadLocked(objectID, channelMask, byteOffset, out)
}

// configReadLocked is configRead for callers already holding the lease,
// typically after staging a selector in the GET window.
func (d *Device) configReadLocked(objectID regs.ObjectID, channelMask uint8, byteOffset uint16, out []byte) error {
	if len(out) == 0 {
		return paramError("config read", "read buffer is empty")
	}

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(out)))
	if err := d.memWrite(regs.MailboxGet, length[:], WriteModeStandardBytes4); err != nil {
		return err
	}

	ext := []byte{channelMask, uint8(regs.ObjIDGsConfig), uint8(objectID), uint8(byteOffset), uint8(byteOffset >> 8)}
	if err := d.commandLocked(regs.OpGet, ext, objectID, d.timeouts.ReadArmConfig, defaultWaitInterval); err != nil {
		return err
	}
	return d.memRead(regs.MailboxGet, out, len(out)%4 == 0)
}

// setObject writes payload to window and issues SET with ext.
func (d *Device) setObject(op string, window uint32, payload, ext []byte, objectID regs.ObjectID, timeout time.Duration) error {
	return d.mailboxSet(op, regs.OpSet, window, payload, ext, objectID, timeout)
}

// mailboxSet writes payload to window and issues opcode with ext, all under
// one lease.
func (d *Device) mailboxSet(op string, opcode uint8, window uint32, payload, ext []byte, objectID regs.ObjectID, timeout time.Duration) error {
	release, err := d.lease(op)
	if err != nil {
		return err
	}
	defer release()

	if len(payload) > 0 {
		if err := d.memWrite(window, payload, WriteModeStandardBytes4); err != nil {
			return err
		}
	}
	return d.commandLocked(opcode, ext, objectID, timeout, defaultWaitInterval)
}

// getObject issues GET with ext and reads len(out) bytes of the GET mailbox.
func (d *Device) getObject(op string, ext []byte, objectID regs.ObjectID, out []byte) error {
	release, err := d.lease(op)
	if err != nil {
		return err
	}
	defer release()

	if err := d.commandLocked(regs.OpGet, ext, objectID, d.timeouts.Default, defaultWaitInterval); err != nil {
		return err
	}
	return d.memRead(regs.MailboxGet, out, len(out)%4 == 0)
}

// writeConfigLayout packs values with layout and writes it as objectID.
func (d *Device) writeConfigLayout(op string, layout *Layout, values Values, channelMask uint8, objectID regs.ObjectID) error {
	data, err := layout.Pack(values)
	if err != nil {
		return paramError(op, "%v", err)
	}
	return d.configWrite(data, []byte{channelMask, uint8(regs.ObjIDGsConfig), uint8(objectID)})
}

// readConfigLayout reads objectID and decodes it with layout.
func (d *Device) readConfigLayout(layout *Layout, channelMask uint8, objectID regs.ObjectID) (Values, error) {
	buf := make([]byte, layout.BodySize())
	if err := d.configRead(objectID, channelMask, 0, buf); err != nil {
		return nil, err
	}
	return layout.UnpackBody(buf)
}
