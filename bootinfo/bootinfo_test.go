package bootinfo

import (
	"encoding/binary"
	"testing"
)

func buildBuf(t *testing.T, proto string) []byte {
	t.Helper()
	const head = 4 + 8 + 8 + 4*5 + 8 + 8
	buf := make([]byte, head)
	copy(buf[0:4], Magic)
	copy(buf[4:12], proto)
	binary.LittleEndian.PutUint64(buf[12:20], 0xFD000000)
	binary.LittleEndian.PutUint32(buf[20:24], 1024)
	binary.LittleEndian.PutUint32(buf[24:28], 768)
	binary.LittleEndian.PutUint32(buf[28:32], 4096)
	binary.LittleEndian.PutUint32(buf[32:36], 32)
	binary.LittleEndian.PutUint64(buf[40:48], 0x600000)
	binary.LittleEndian.PutUint64(buf[48:56], 0x2000)
	return buf
}

func TestDecodeS1BootInfo(t *testing.T) {
	buf := buildBuf(t, "v1.0")
	bi, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if bi.Framebuffer.Addr != 0xFD000000 || bi.Framebuffer.Width != 1024 || bi.Framebuffer.Height != 768 {
		t.Fatalf("framebuffer = %+v", bi.Framebuffer)
	}
	if bi.InitEntry != 0x600000 || bi.InitSize != 0x2000 {
		t.Fatalf("init entry/size = %x/%x", bi.InitEntry, bi.InitSize)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := buildBuf(t, "v1.0")
	buf[0] = 'X'
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsUnsupportedProtocol(t *testing.T) {
	buf := buildBuf(t, "v2.0")
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for unsupported protocol major")
	}
}
