package resource

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/atmosphere/internal/gpu"
)

type BufferBuilder struct {
	Size   int
	Usage  gpu.BufferUsage
	Memory gpu.MemoryUsage
}

func (b BufferBuilder) Build(alloc gpu.Allocator) (*Buffer, error) {
	if b.Size <= 0 {
		return nil, invalid("BufferBuilder", "Size", "size %d must be positive", b.Size)
	}
	if b.Usage == 0 {
		return nil, invalid("BufferBuilder", "Usage", "no usage flags")
	}
	handle, err := alloc.CreateBuffer(gpu.BufferInfo{Size: b.Size, Usage: b.Usage, Memory: b.Memory})
	if err != nil {
		return nil, errors.Wrapf(err, "create buffer of %d bytes", b.Size)
	}
	return &Buffer{handle: handle, size: b.Size}, nil
}

type Buffer struct {
	noCopy noCopy

	handle gpu.Buffer
	size   int
}

func (b *Buffer) Handle() gpu.Buffer {
	return b.handle
}

func (b *Buffer) Size() int {
	return b.size
}

// Update encodes data in little-endian binary form and writes it at the
// start of the buffer. data must be a fixed-size value or slice of them.
func (b *Buffer) Update(data any) error {
	size := binary.Size(data)
	if size < 0 {
		return errors.Newf("cannot encode %T", data)
	}
	if size > b.size {
		return errors.Newf("%d bytes do not fit in a buffer of %d", size, b.size)
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return errors.Wrap(err, "encode buffer data")
	}
	return b.handle.Write(0, buf.Bytes())
}

// Read copies the start of the buffer into out.
func (b *Buffer) Read(out []byte) error {
	return b.handle.Read(0, out)
}

// CopyTo records a copy of the whole buffer into dst.
func (b *Buffer) CopyTo(cmd gpu.CommandBuffer, dst *Buffer) error {
	if dst.size < b.size {
		return errors.Newf("copy of %d bytes into buffer of %d", b.size, dst.size)
	}
	cmd.CopyBuffer(b.handle, dst.handle, b.size)
	return nil
}

func (b *Buffer) Release() gpu.Buffer {
	h := b.handle
	b.handle = nil
	return h
}

func (b *Buffer) Destroy() {
	if b.handle == nil {
		return
	}
	b.handle.Destroy()
	b.handle = nil
}
