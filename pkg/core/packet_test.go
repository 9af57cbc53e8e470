package core

import (
	"bytes"
	"net"
	"testing"
)

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// TestDatagramImplementation tests the basic accessors in both copy modes.
func TestDatagramImplementation(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	for _, debug := range []bool{true, false} {
		t.Run("DebugMode="+boolToString(debug), func(t *testing.T) {
			SetDebugMode(debug)
			defer SetDebugMode(false)

			testData := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
			d := NewDatagram(testData, addr)

			if !bytes.Equal(d.Data(), testData) {
				t.Errorf("Expected datagram data to be %v, got %v", testData, d.Data())
			}
			if d.Len() != len(testData) {
				t.Errorf("Expected datagram length to be %d, got %d", len(testData), d.Len())
			}
			if d.Addr().String() != addr.String() {
				t.Errorf("Expected addr %s, got %s", addr, d.Addr())
			}
		})
	}
}

// TestDatagramCopy tests that data is copied in debug mode and shared otherwise.
func TestDatagramCopy(t *testing.T) {
	t.Run("DebugMode=true", func(t *testing.T) {
		SetDebugMode(true)
		defer SetDebugMode(false)

		testData := []byte{0x01, 0x02, 0x03}
		d := NewDatagram(testData, nil)
		testData[0] = 0xFF
		if d.Data()[0] == 0xFF {
			t.Error("Datagram data was not copied, it's still referencing the original data")
		}

		data := d.Data()
		data[1] = 0xFF
		if d.Data()[1] == 0xFF {
			t.Error("Data() did not return a copy of the datagram data")
		}
	})

	t.Run("DebugMode=false", func(t *testing.T) {
		SetDebugMode(false)

		testData := []byte{0x01, 0x02, 0x03}
		d := NewDatagram(testData, nil)
		testData[0] = 0xFF
		if d.Data()[0] != 0xFF {
			t.Error("Datagram data was copied, but it shouldn't be in non-debug mode")
		}
	})
}

// TestNilDatagram tests creating a datagram from nil data.
func TestNilDatagram(t *testing.T) {
	d := NewDatagram(nil, nil)
	if d.Data() == nil || d.Len() != 0 {
		t.Errorf("Expected empty datagram data, got %v", d.Data())
	}
}

// TestPooledDatagramRelease tests that the releaser runs exactly once.
func TestPooledDatagramRelease(t *testing.T) {
	calls := 0
	d := NewPooledDatagram(make([]byte, 16), nil, func([]byte) { calls++ })

	if d.Released() {
		t.Fatal("datagram reported released before Release")
	}
	d.Release()
	d.Release()
	if calls != 1 {
		t.Errorf("Expected releaser to run once, ran %d times", calls)
	}
	if !d.Released() {
		t.Error("datagram not marked released")
	}

	// Non-pooled datagrams ignore Release.
	plain := NewDatagram([]byte{1}, nil)
	plain.Release()
	if plain.Released() {
		t.Error("plain datagram should never be released")
	}
}

// TestDebugModeToggle tests toggling debug mode on and off.
func TestDebugModeToggle(t *testing.T) {
	SetDebugMode(true)
	if !IsDebugMode() {
		t.Error("Debug mode should be on")
	}
	SetDebugMode(false)
	if IsDebugMode() {
		t.Error("Debug mode should be off")
	}
}
