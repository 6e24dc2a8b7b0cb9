// Package regmap holds the AXI-Lite register map of the accelerator
// control interface, transcribed from the RegMapping output of the
// deployed bitstream. All accesses are 32-bit aligned.
package regmap

const (
	// BaseAddr is the physical base of the control window as wired by the
	// device tree. The window is one 4 KiB page.
	BaseAddr   = 0x43C00000
	WindowSize = 4096
)

// Control register offsets.
const (
	ApCtrl = 0x00
	Gie    = 0x04 // global interrupt enable
	Ier    = 0x08 // interrupt enable
	Isr    = 0x0C // interrupt status, write-1-to-clear
)

// AP_CTRL bits.
const (
	CtrlStart       = 0x01
	CtrlDone        = 0x02 // clear-on-read
	CtrlIdle        = 0x04
	CtrlReady       = 0x08 // clear-on-read
	CtrlAutoRestart = 0x80
	CtrlInterrupt   = 0x200
)

// ISR / IER bits.
const (
	IrqDone       = 0x01
	IrqReady      = 0x02
	IrqTokenReady = 0x04
	IrqError      = 0x08
)

// config_in: 1216 bits spread over 38 consecutive 32-bit registers.
const (
	ConfigInBase  = 0x10
	ConfigInWords = 38
)

// status_out: 128 bits over 4 registers, gated by an ap_vld bit.
const (
	StatusOutBase  = 0xAC
	StatusOutWords = 4
	StatusOutCtrl  = 0xBC
	StatusOutValid = 0x01
)

// IrqClear re-arms the interrupt line; write all-ones to clear every source.
const IrqClear = 0xD4

// ConfigWordOffset returns the register offset of config_in word n.
func ConfigWordOffset(n int) uint32 {
	return ConfigInBase + uint32(n)*4
}

// StatusWordOffset returns the register offset of status_out word n.
func StatusWordOffset(n int) uint32 {
	return StatusOutBase + uint32(n)*4
}
