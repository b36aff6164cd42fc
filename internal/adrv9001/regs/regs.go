// Package regs holds the ADRV9001 wire constants: SPI register addresses,
// ARM memory map, mailbox opcodes and object IDs. Everything here is part of
// the firmware ABI and must not change.
package regs

// SPI register addresses
const (
	// SPI interface
	AddrSpiInterfaceConfigA = 0x0000 // Soft reset, address ascension
	AddrSpiInterfaceConfigB = 0x0001 // Single instruction
	AddrChipType            = 0x0003 // Chip type
	AddrProductIDLow        = 0x0004 // Product ID LSB
	AddrProductIDHigh       = 0x0005 // Product ID MSB
	AddrScratchPad          = 0x000A // Scratch pad

	// ARM DMA bridge
	AddrArmDmaCtl     = 0x0083 // DMA control
	AddrArmDmaAddr3   = 0x0084 // DMA address bits 31:26
	AddrArmDmaAddr2   = 0x0085 // DMA address bits 25:18
	AddrArmDmaAddr1   = 0x0086 // DMA address bits 17:10
	AddrArmDmaAddr0   = 0x0087 // DMA address bits 9:2, latches the address
	AddrArmDmaData0   = 0x0088 // DMA data byte 0, commits/advances the transfer
	AddrArmDmaData1   = 0x0089 // DMA data byte 1
	AddrArmDmaData2   = 0x008A // DMA data byte 2
	AddrArmDmaData3   = 0x008B // DMA data byte 3
	AddrArmDmaByteSel = 0x008C // DMA byte select for byte-wide accesses

	// ARM mailbox
	AddrArmCommand     = 0x00C3 // Opcode; bit 7 reads back mailbox busy
	AddrArmExtCmdByte1 = 0x00C4 // First of five extended command bytes
	AddrArmCmdStatus0  = 0x00D0 // First of sixteen command status bytes

	// Channel control
	AddrBbicEnables       = 0x0160 // Per-channel RF enable bits (SPI mode)
	AddrChannelEnableMode = 0x0161 // Per-channel enable mode, 1 = pin mode
)

// ExtCmdBytes is the number of extended command byte registers.
const ExtCmdBytes = 5

// Command status registers with a fixed meaning
const (
	AddrArmCmdStatus8  = AddrArmCmdStatus0 + 8  // System state, monitor mode, boot state
	AddrArmCmdStatus9  = AddrArmCmdStatus0 + 9  // Rx1/Rx2/Tx1/Tx2 channel states
	AddrArmCmdStatus10 = AddrArmCmdStatus0 + 10 // Mailbox error code
	AddrArmCmdStatus11 = AddrArmCmdStatus0 + 11 // Mailbox error object ID
	AddrArmCmdStatus12 = AddrArmCmdStatus0 + 12 // System error code
	AddrArmCmdStatus13 = AddrArmCmdStatus0 + 13 // System error object ID
)

// CmdStatusSlotBytes is the number of status bytes holding opcode nibbles.
const CmdStatusSlotBytes = 8

// Register bit masks

// AddrSpiInterfaceConfigA bits
const (
	ConfigASoftReset     = 0x81 // Soft reset, mirrored
	ConfigAAddrAscension = 0x24 // Ascending addresses in streaming mode, mirrored
	ConfigAStreamDefault = 0x18 // Descending streaming, SDO active
	ConfigAAscensionBit  = 0x20 // Upper copy of the ascension bit
)

// AddrSpiInterfaceConfigB bits
const (
	ConfigBSingleInstruction = 0x80 // One register per transaction
)

// AddrArmCommand bits
const (
	ArmCommandBusy = 0x80 // Mailbox busy (read only)
)

// AddrArmDmaCtl bits
const (
	DmaCtlRdWrb        = 0x80 // 1 = read, 0 = write
	DmaCtlSysCodeb     = 0x40 // 1 = system (data) bus, 0 = code bus
	DmaCtlBusSizeMask  = 0x30 // Bus size field
	DmaCtlBusSizeShift = 4
	DmaCtlAutoIncr     = 0x08 // Address auto increment
	DmaCtlBusWaiting   = 0x01 // Bus transaction still waiting
)

// DMA bus sizes
const (
	DmaBusSizeByte     = 0
	DmaBusSizeHalfWord = 1
	DmaBusSizeWord     = 2
)

// DMA address byte shifts
const (
	DmaAddr0Shift  = 2
	DmaAddr1Shift  = 10
	DmaAddr2Shift  = 18
	DmaAddr3Shift  = 26
	DmaByteSelMask = 0x3
)

// AddrBbicEnables / AddrChannelEnableMode bit per channel
const (
	ChannelBitRx1  = 1 << 0
	ChannelBitRx2  = 1 << 1
	ChannelBitTx1  = 1 << 2
	ChannelBitTx2  = 1 << 3
	ChannelBitORx1 = 1 << 4
	ChannelBitORx2 = 1 << 5
)

// ARM memory map
const (
	ArmProgStart = 0x01000000
	ArmProgEnd   = 0x01047FFF
	ArmDataStart = 0x20000000
	ArmDataEnd   = 0x2004FFFF

	MailboxSet               = 0x20000000
	MailboxGet               = 0x20000100
	MailboxRunInit           = 0x20000200
	MailboxHighPrioritySet   = 0x20000210
	MailboxDynamicProfileSet = 0x20000230

	ArmVersionAddr      = 0x01000120 // Firmware version word plus build flags
	WarmBootTableHeader = 0x20000400 // Warm boot table-of-tables header
)

// Mailbox opcodes
const (
	OpAbort         = 0x00
	OpRunInit       = 0x02
	OpRadioOn       = 0x04
	OpRadioOff      = 0x06
	OpStandby       = 0x08
	OpSet           = 0x0A
	OpGet           = 0x0C
	OpMcs           = 0x0E
	OpHighPriority  = 0x10
	OpPowerDown     = 0x12
	OpPowerUp       = 0x14
	OpStreamTrigger = 0x1F
)

// OpcodeNames maps opcodes to the names used in logs.
var OpcodeNames = map[uint8]string{
	OpAbort:         "ABORT",
	OpRunInit:       "RUNINIT",
	OpRadioOn:       "RADIOON",
	OpRadioOff:      "RADIOOFF",
	OpStandby:       "STANDBY",
	OpSet:           "SET",
	OpGet:           "GET",
	OpMcs:           "MCS",
	OpHighPriority:  "HIGHPRIORITY",
	OpPowerDown:     "POWERDOWN",
	OpPowerUp:       "POWERUP",
	OpStreamTrigger: "STREAM_TRIGGER",
}

// RegisterDescriptions provides human-readable register names
var RegisterDescriptions = map[uint16]string{
	AddrSpiInterfaceConfigA: "SPI interface config A",
	AddrSpiInterfaceConfigB: "SPI interface config B",
	AddrChipType:            "Chip type",
	AddrProductIDLow:        "Product ID (low)",
	AddrProductIDHigh:       "Product ID (high)",
	AddrScratchPad:          "Scratch pad",
	AddrArmDmaCtl:           "ARM DMA control",
	AddrArmDmaAddr3:         "ARM DMA address 3",
	AddrArmDmaAddr2:         "ARM DMA address 2",
	AddrArmDmaAddr1:         "ARM DMA address 1",
	AddrArmDmaAddr0:         "ARM DMA address 0",
	AddrArmDmaData3:         "ARM DMA data 3",
	AddrArmDmaData2:         "ARM DMA data 2",
	AddrArmDmaData1:         "ARM DMA data 1",
	AddrArmDmaData0:         "ARM DMA data 0",
	AddrArmDmaByteSel:       "ARM DMA byte select",
	AddrArmCommand:          "ARM command",
	AddrArmCmdStatus8:       "ARM command status 8 (system state)",
	AddrArmCmdStatus9:       "ARM command status 9 (channel states)",
	AddrArmCmdStatus10:      "ARM command status 10 (mailbox error code)",
	AddrArmCmdStatus11:      "ARM command status 11 (mailbox error object)",
	AddrArmCmdStatus12:      "ARM command status 12 (system error code)",
	AddrArmCmdStatus13:      "ARM command status 13 (system error object)",
	AddrBbicEnables:         "BBIC channel enables",
	AddrChannelEnableMode:   "Channel enable mode",
}
