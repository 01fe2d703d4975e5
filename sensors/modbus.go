package sensors

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
)

const defaultModbusTimeout = 2 * time.Second

// RegisterReader is the part of modbus.Client the driver uses.
type RegisterReader interface {
	ReadHoldingRegisters(address, quantity uint16) (results []byte, err error)
}

// ModbusConfig configures a ModbusRegister.
type ModbusConfig struct {
	Address  string
	SlaveID  byte
	Register uint16
	// Scale multiplies the signed register value; zero means 1.
	Scale   float64
	Timeout time.Duration
}

// ModbusRegister reads one signed 16-bit holding register over Modbus TCP.
type ModbusRegister struct {
	cfg     ModbusConfig
	client  RegisterReader
	handler *modbus.TCPClientHandler
}

// NewModbusRegister returns a driver that connects on Init.
func NewModbusRegister(cfg ModbusConfig) *ModbusRegister {
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultModbusTimeout
	}
	return &ModbusRegister{cfg: cfg}
}

// Init connects to the device unless a client was supplied.
func (m *ModbusRegister) Init(_ context.Context, _ *Descriptor) error {
	if m.client != nil {
		return nil
	}
	h := modbus.NewTCPClientHandler(m.cfg.Address)
	h.Timeout = m.cfg.Timeout
	h.SlaveId = m.cfg.SlaveID
	if err := h.Connect(); err != nil {
		return fmt.Errorf("modbus %s: %w", m.cfg.Address, err)
	}
	m.handler = h
	m.client = modbus.NewClient(h)
	return nil
}

// Read fetches the register.
func (m *ModbusRegister) Read(_ context.Context, d *Descriptor) error {
	b, err := m.client.ReadHoldingRegisters(m.cfg.Register, 1)
	if err != nil {
		return fmt.Errorf("modbus register %d: %w", m.cfg.Register, err)
	}
	if len(b) < 2 {
		return fmt.Errorf("modbus register %d: short response (%d bytes)", m.cfg.Register, len(b))
	}
	raw := int16(binary.BigEndian.Uint16(b))
	d.Store(int(math.Round(float64(raw) * m.cfg.Scale)))
	return nil
}

// Close drops the TCP connection.
func (m *ModbusRegister) Close() error {
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}
