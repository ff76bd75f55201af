package blockcache

import "github.com/lpae-kernel/kernel/internal/kerr"

// MemDevice is an in-memory Device, used by filesystem plug-in tests and
// by the disk-image tooling to back a Cache without a real block
// device.
type MemDevice struct {
	sectorSize uint32
	data       []byte
}

// NewMemDevice returns a device of sectorCount sectors of sectorSize
// bytes each, zero-initialized.
func NewMemDevice(sectorSize, sectorCount uint32) *MemDevice {
	return &MemDevice{sectorSize: sectorSize, data: make([]byte, sectorSize*sectorCount)}
}

func (d *MemDevice) SectorSize() uint32 { return d.sectorSize }

func (d *MemDevice) ReadSector(sector uint32, buf []byte) error {
	off := sector * d.sectorSize
	if int(off)+len(buf) > len(d.data) {
		return kerr.New(kerr.IoError, "MemDevice.ReadSector: out of range")
	}
	copy(buf, d.data[off:])
	return nil
}

func (d *MemDevice) WriteSector(sector uint32, buf []byte) error {
	off := sector * d.sectorSize
	if int(off)+len(buf) > len(d.data) {
		return kerr.New(kerr.IoError, "MemDevice.WriteSector: out of range")
	}
	copy(d.data[off:], buf)
	return nil
}

// Raw exposes the backing bytes directly, for test setup/assertions.
func (d *MemDevice) Raw() []byte { return d.data }
