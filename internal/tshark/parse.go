package tshark

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Interface is a capture interface as listed by tshark -D.
type Interface struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Protocol is a dissector as listed by tshark -G protocols.
type Protocol struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Filter    string `json:"filter"`
}

// ParseInterfaces parses tshark -D output, e.g.
//
//	1. eth0
//	2. any (Pseudo-device that captures on all interfaces)
//	3. \Device\NPF_{6A3F...} (Ethernet)
func ParseInterfaces(out []byte) []Interface {
	var ifaces []Interface
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		num, rest, ok := strings.Cut(line, ". ")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		name, desc, _ := strings.Cut(strings.TrimSpace(rest), " (")
		if name == "" {
			continue
		}
		ifaces = append(ifaces, Interface{
			Index:       idx,
			Name:        name,
			Description: strings.TrimSuffix(desc, ")"),
		})
	}
	return ifaces
}

// ParseProtocols parses the tab-separated output of tshark -G protocols.
func ParseProtocols(out []byte) []Protocol {
	var protos []Protocol
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < 3 || strings.TrimSpace(cols[2]) == "" {
			continue
		}
		protos = append(protos, Protocol{
			Name:      strings.TrimSpace(cols[0]),
			ShortName: strings.TrimSpace(cols[1]),
			Filter:    strings.TrimSpace(cols[2]),
		})
	}
	return protos
}

// ParseVersion returns the first line of tshark -v output.
func ParseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}
