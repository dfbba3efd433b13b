package tshark

import (
	"slices"
	"strconv"
	"time"
)

// packet count requested from tshark for a window of limit records: one extra
// packet lets the decoder tell a full window from a truncated one.
func packetCount(limit int) string {
	return strconv.Itoa(limit + 1)
}

// OfflineArgs reads a capture file as JSON, optionally through a display
// filter. Every JSON run passes --no-duplicate-keys so that repeated keys
// (a second expert item, a tunnelled ip layer) arrive as arrays.
func OfflineArgs(file, displayFilter string, limit int) []string {
	args := []string{"-r", file, "-n", "-T", "json", "--no-duplicate-keys", "-c", packetCount(limit)}
	if displayFilter != "" {
		args = append(args, "-Y", displayFilter)
	}
	return args
}

// LiveArgs captures on iface for d, optionally through a capture (BPF)
// filter.
func LiveArgs(iface string, d time.Duration, captureFilter string, limit int) []string {
	secs := max(1, int(d.Round(time.Second)/time.Second))
	args := []string{
		"-i", iface,
		"-n",
		"-a", "duration:" + strconv.Itoa(secs),
		"-c", packetCount(limit),
		"-T", "json", "--no-duplicate-keys",
	}
	if captureFilter != "" {
		args = append(args, "-f", captureFilter)
	}
	return args
}

// FieldArgs reads the named fields of a capture file. The frame fields every
// record needs are always included.
func FieldArgs(file string, fields []string, displayFilter string, limit int) []string {
	args := []string{"-r", file, "-n", "-T", "json", "--no-duplicate-keys", "-c", packetCount(limit)}
	for _, f := range fieldList(fields) {
		args = append(args, "-e", f)
	}
	if displayFilter != "" {
		args = append(args, "-Y", displayFilter)
	}
	return args
}

func fieldList(fields []string) []string {
	out := []string{"frame.number", "frame.time_epoch", "frame.protocols", "frame.len"}
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}
