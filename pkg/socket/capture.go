package socket

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/irctrakz/microtcp/pkg/core"
	"github.com/irctrakz/microtcp/pkg/logging"
	"github.com/sirupsen/logrus"
)

// captureSnapLen is the pcap snapshot length; a UDP datagram never exceeds it.
const captureSnapLen = 65536

// captureIPID numbers the synthesized IPv4 frames.
var captureIPID atomic.Uint32

func nextIPID() uint16 { return uint16(captureIPID.Add(1)) }

// CaptureTransport wraps a Transport and writes every datagram it sends or
// receives into a pcap stream (LINKTYPE_RAW). Each datagram is framed with
// synthesized IP and UDP headers so Wireshark can follow the exchange.
type CaptureTransport struct {
	core.Transport

	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	failed bool
}

// NewCaptureTransport starts a pcap stream on w and returns inner wrapped.
func NewCaptureTransport(inner core.Transport, w io.Writer) (*CaptureTransport, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(captureSnapLen, layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &CaptureTransport{Transport: inner, w: pw}, nil
}

// OpenCapture creates the pcap file at path and wraps inner. Close closes both.
func OpenCapture(inner core.Transport, path string) (*CaptureTransport, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	ct, err := NewCaptureTransport(inner, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ct.closer = f
	logging.Infof("capturing datagrams to %s", path)
	return ct, nil
}

// SendTo sends through the wrapped transport and records the datagram.
func (c *CaptureTransport) SendTo(b []byte, addr net.Addr) (int, error) {
	n, err := c.Transport.SendTo(b, addr)
	if err == nil {
		c.record(c.Transport.LocalAddr(), addr, b[:n])
	}
	return n, err
}

// RecvFrom receives through the wrapped transport and records the datagram.
func (c *CaptureTransport) RecvFrom(b []byte, deadline time.Time) (int, net.Addr, error) {
	n, addr, err := c.Transport.RecvFrom(b, deadline)
	if err == nil {
		c.record(addr, c.Transport.LocalAddr(), b[:n])
	}
	return n, addr, err
}

// Close closes the wrapped transport and the capture file, if owned.
func (c *CaptureTransport) Close() error {
	err := c.Transport.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}

// Metrics forwards the wrapped transport's counters when it keeps any.
func (c *CaptureTransport) Metrics() Metrics {
	if mt, ok := c.Transport.(core.MeteredTransport); ok {
		return mt.Metrics()
	}
	return Metrics{}
}

func (c *CaptureTransport) record(from, to net.Addr, payload []byte) {
	frame, err := frameUDP(from, to, payload)
	if err != nil {
		logging.Debugf("capture: skip datagram %v -> %v: %v", from, to, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := c.w.WritePacket(ci, frame); err != nil {
		// stop capturing rather than fail the connection
		c.failed = true
		logging.WarnWithFields(logrus.Fields{"local": c.Transport.LocalAddr()}, "capture disabled after write error: %v", err)
	}
}

// frameUDP serializes payload behind IPv4 (or IPv6) and UDP headers built from the addresses.
func frameUDP(from, to net.Addr, payload []byte) ([]byte, error) {
	src, ok1 := from.(*net.UDPAddr)
	dst, ok2 := to.(*net.UDPAddr)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("not UDP addresses")
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}

	var network gopacket.SerializableLayer
	src4, dst4 := ipv4Of(src.IP), ipv4Of(dst.IP)
	if src4 != nil && dst4 != nil {
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Id:       nextIPID(),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src4,
			DstIP:    dst4,
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      ipv6Of(src.IP),
			DstIP:      ipv6Of(dst.IP),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, network, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ipv4Of returns the 4-byte form of ip, treating the unspecified address as 0.0.0.0.
func ipv4Of(ip net.IP) net.IP {
	if ip == nil {
		return net.IPv4zero.To4()
	}
	return ip.To4()
}

func ipv6Of(ip net.IP) net.IP {
	if ip == nil {
		return net.IPv6zero
	}
	return ip.To16()
}
