// Package capfile checks capture files before they are handed to tshark.
package capfile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

// Format is a capture file container format.
type Format string

const (
	FormatPcap   Format = "pcap"
	FormatPcapNG Format = "pcapng"
)

// magic numbers, as read little-endian from the first four bytes
const (
	magicPcap         = 0xa1b2c3d4
	magicPcapSwapped  = 0xd4c3b2a1
	magicPcapNano     = 0xa1b23c4d
	magicPcapNanoSwap = 0x4d3cb2a1
	magicPcapNG       = 0x0a0d0d0a
)

// Info describes a capture file.
type Info struct {
	Path     string          `json:"path"`
	Format   Format          `json:"format"`
	LinkType layers.LinkType `json:"-"`
	Link     string          `json:"link_type"`
	Size     int64           `json:"size_bytes"`
	Human    string          `json:"size"`
}

// Inspect validates that path names a readable pcap or pcapng file and
// returns its header information. All failures are invalid_input errors
// naming the file_path parameter.
func Inspect(path string) (*Info, error) {
	if path == "" {
		return nil, apperrors.InvalidParam("file_path", "file_path is required")
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.InvalidParam("file_path", "file %q does not exist", path)
		}
		return nil, invalidFile(path, err)
	}
	if !st.Mode().IsRegular() {
		return nil, apperrors.InvalidParam("file_path", "%q is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, invalidFile(path, err)
	}
	defer f.Close()

	info := &Info{Path: path, Size: st.Size(), Human: humanize.Bytes(uint64(st.Size()))}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, apperrors.InvalidParam("file_path", "%q is too short to be a capture file", path)
	}

	switch binary.LittleEndian.Uint32(magic) {
	case magicPcap, magicPcapSwapped, magicPcapNano, magicPcapNanoSwap:
		r, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, invalidFile(path, err)
		}
		info.Format = FormatPcap
		info.LinkType = r.LinkType()
	case magicPcapNG:
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, invalidFile(path, err)
		}
		info.Format = FormatPcapNG
		info.LinkType = r.LinkType()
	default:
		return nil, apperrors.InvalidParam("file_path", "%q is not a pcap or pcapng capture", path)
	}
	info.Link = info.LinkType.String()
	return info, nil
}

func invalidFile(path string, err error) error {
	e := apperrors.Wrap(apperrors.KindInvalidInput, err, "cannot read capture %q", path)
	return e.WithParam("file_path")
}

// String implements fmt.Stringer.
func (i *Info) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", i.Path, i.Format, i.Link, i.Human)
}
