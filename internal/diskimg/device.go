package diskimg

import (
	"io"
	"os"

	"github.com/lpae-kernel/kernel/internal/kerr"
)

// FileDevice adapts a whole raw disk image file into a blockcache.Device
// addressed from sector 0 of the file, for a daemon that owns its block
// device directly rather than through a partition carved out of it.
type FileDevice struct {
	f          *os.File
	sectorSize uint32
}

// OpenImage opens path read-write as a FileDevice with the given
// sector size. Callers that only need read access may ignore
// WriteSector's error return.
func OpenImage(path string, sectorSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, kerr.Wrap(kerr.IoError, "diskimg.OpenImage", err)
	}
	return &FileDevice{f: f, sectorSize: sectorSize}, nil
}

func (d *FileDevice) SectorSize() uint32 { return d.sectorSize }

func (d *FileDevice) ReadSector(sector uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(sector)*int64(d.sectorSize))
	if err != nil {
		return kerr.Wrap(kerr.IoError, "diskimg.FileDevice.ReadSector", err)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(sector)*int64(d.sectorSize))
	if err != nil {
		return kerr.Wrap(kerr.IoError, "diskimg.FileDevice.WriteSector", err)
	}
	return nil
}

// Close releases the underlying file handle.
func (d *FileDevice) Close() error { return d.f.Close() }

// ReaderAt exposes the image for ReadMBR without a second open.
func (d *FileDevice) ReaderAt() io.ReaderAt { return d.f }

// PartitionDevice adapts one partition of a raw disk image, accessed
// through r, into a blockcache.Device addressed from sector 0 of the
// partition rather than the whole image.
type PartitionDevice struct {
	r          io.ReaderAt
	w          io.WriterAt
	sectorSize uint32
	base       int64
	sectors    uint32
}

// NewPartitionDevice returns a device over p's sector range within the
// image backing rw, which serves both reads and writes.
func NewPartitionDevice(rw interface {
	io.ReaderAt
	io.WriterAt
}, sectorSize uint32, p Partition) *PartitionDevice {
	return &PartitionDevice{
		r:          rw,
		w:          rw,
		sectorSize: sectorSize,
		base:       int64(p.RelativeSector) * int64(sectorSize),
		sectors:    p.TotalSectors,
	}
}

func (d *PartitionDevice) SectorSize() uint32 { return d.sectorSize }

func (d *PartitionDevice) ReadSector(sector uint32, buf []byte) error {
	if sector >= d.sectors {
		return kerr.New(kerr.IoError, "diskimg.PartitionDevice.ReadSector: out of range")
	}
	_, err := d.r.ReadAt(buf, d.base+int64(sector)*int64(d.sectorSize))
	if err != nil {
		return kerr.Wrap(kerr.IoError, "diskimg.PartitionDevice.ReadSector", err)
	}
	return nil
}

func (d *PartitionDevice) WriteSector(sector uint32, buf []byte) error {
	if sector >= d.sectors {
		return kerr.New(kerr.IoError, "diskimg.PartitionDevice.WriteSector: out of range")
	}
	if d.w == nil {
		return kerr.New(kerr.Permission, "diskimg.PartitionDevice.WriteSector: read-only image")
	}
	_, err := d.w.WriteAt(buf, d.base+int64(sector)*int64(d.sectorSize))
	if err != nil {
		return kerr.Wrap(kerr.IoError, "diskimg.PartitionDevice.WriteSector", err)
	}
	return nil
}
