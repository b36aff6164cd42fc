package adrv9001

import (
	"github.com/linht/adrv-manager/internal/adrv9001/regs"
)

// Carrier frequency limits
const (
	CarrierFrequencyMinHz      uint64 = 25_000_000
	CarrierFrequencyMaxHz      uint64 = 6_000_000_000
	IntermediateFrequencyMaxHz int32  = 20_000_000
)

// LoGenOptimization trades LO phase noise against power.
type LoGenOptimization uint8

const (
	LoGenOptimizationPhaseNoise       LoGenOptimization = 0
	LoGenOptimizationPowerConsumption LoGenOptimization = 1
)

// Carrier is the LO configuration of one channel.
type Carrier struct {
	FrequencyHz             uint64            `json:"frequency_hz"`
	LoGenOptimization       LoGenOptimization `json:"lo_gen_optimization"`
	IntermediateFrequencyHz int32             `json:"intermediate_frequency_hz"` // Rx only, 0 for zero IF
	ManualRxPort            bool              `json:"manual_rx_port"`
}

var carrierLayout = NewLayout(
	U64("frequency"),
	Reserved(1),
	U8("lo_gen"),
	U32("if"),
	U8("manual_rx_port"),
	Reserved(1),
)

// CarrierConfigure programs the carrier of a channel in STANDBY or
// CALIBRATED.
func (d *Device) CarrierConfigure(port Port, ch ChannelNumber, c Carrier) error {
	return d.record(d.carrierConfigure(port, ch, c))
}

func (d *Device) carrierConfigure(port Port, ch ChannelNumber, c Carrier) error {
	const op = "carrier configure"
	if err := validateChannel(op, port, ch); err != nil {
		return err
	}
	if c.LoGenOptimization > LoGenOptimizationPowerConsumption {
		return paramError(op, "invalid LO gen optimization %d", c.LoGenOptimization)
	}
	if c.FrequencyHz < CarrierFrequencyMinHz || c.FrequencyHz > CarrierFrequencyMaxHz {
		return paramError(op, "carrier frequency %d Hz outside %d..%d Hz", c.FrequencyHz, CarrierFrequencyMinHz, CarrierFrequencyMaxHz)
	}
	if c.IntermediateFrequencyHz < -IntermediateFrequencyMaxHz || c.IntermediateFrequencyHz > IntermediateFrequencyMaxHz {
		return paramError(op, "intermediate frequency %d Hz outside +/-%d Hz", c.IntermediateFrequencyHz, IntermediateFrequencyMaxHz)
	}
	if err := d.requireStates(op, []Channel{{port, ch}}, ChannelStandby, ChannelCalibrated); err != nil {
		return err
	}

	payload, err := carrierLayout.Pack(Values{
		"frequency":      c.FrequencyHz,
		"lo_gen":         uint64(c.LoGenOptimization),
		"if":             uint64(uint32(c.IntermediateFrequencyHz)),
		"manual_rx_port": boolValue(c.ManualRxPort),
	})
	if err != nil {
		return paramError(op, "%v", err)
	}

	d.log.Info("carrier configure", "channel", Channel{port, ch}.String(), "frequency_hz", c.FrequencyHz)
	ext := []byte{MailboxChannel(port, ch), uint8(regs.ObjIDGsChannelCarrierFrequency)}
	return d.setObject(op, regs.MailboxSet, payload, ext, regs.ObjIDGsChannelCarrierFrequency, d.timeouts.Default)
}

// CarrierInspect reads back the carrier of a channel. The intermediate
// frequency is only reported for Rx.
func (d *Device) CarrierInspect(port Port, ch ChannelNumber) (Carrier, error) {
	const op = "carrier inspect"
	var c Carrier
	if err := validateChannel(op, port, ch); err != nil {
		return c, d.record(err)
	}

	buf := make([]byte, carrierLayout.Size())
	ext := []byte{MailboxChannel(port, ch), uint8(regs.ObjIDGsChannelCarrierFrequency)}
	if err := d.getObject(op, ext, regs.ObjIDGsChannelCarrierFrequency, buf); err != nil {
		return c, d.record(err)
	}
	v, err := carrierLayout.Unpack(buf)
	if err != nil {
		return c, d.record(paramError(op, "%v", err))
	}

	c.FrequencyHz = v.U64("frequency")
	c.LoGenOptimization = LoGenOptimization(v.U8("lo_gen"))
	if port == PortRx {
		c.IntermediateFrequencyHz = int32(v.U32("if"))
	}
	c.ManualRxPort = v.Bool("manual_rx_port")
	return c, nil
}
