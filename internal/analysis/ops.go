package analysis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jayimu/wireshark-mcp/internal/capfile"
	"github.com/jayimu/wireshark-mcp/internal/classify"
	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
	"github.com/jayimu/wireshark-mcp/internal/stats"
	"github.com/jayimu/wireshark-mcp/internal/tshark"
)

// ListInterfaces lists the capture interfaces.
func (a *Analyzer) ListInterfaces(ctx context.Context) (res *InterfaceList, err error) {
	ctx, c := a.begin(ctx, "list_interfaces", nil)
	defer func() { c.done(ctx, err) }()

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, a.opts.AnalysisTimeout)
	defer cancel()
	ifaces, err := a.src.Interfaces(ctx)
	if err != nil {
		return nil, err
	}
	if ifaces == nil {
		ifaces = []tshark.Interface{}
	}
	return &InterfaceList{Interfaces: ifaces, Count: len(ifaces)}, nil
}

// Protocols lists the dissectors tshark supports. A non-empty match keeps
// the protocols whose filter name, short name or full name contains it,
// case-insensitively.
func (a *Analyzer) Protocols(ctx context.Context, match string) (res *ProtocolList, err error) {
	ctx, c := a.begin(ctx, "get_protocols", map[string]string{"match": match})
	defer func() { c.done(ctx, err) }()

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, a.opts.AnalysisTimeout)
	defer cancel()
	all, err := a.src.Protocols(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(match))
	list := make([]tshark.Protocol, 0, len(all))
	for _, p := range all {
		if needle == "" ||
			strings.Contains(strings.ToLower(p.Filter), needle) ||
			strings.Contains(strings.ToLower(p.ShortName), needle) ||
			strings.Contains(strings.ToLower(p.Name), needle) {
			list = append(list, p)
		}
	}
	res = &ProtocolList{Match: match, Protocols: list, Count: len(list), Total: len(list)}
	for len(res.Protocols) > 0 {
		b, err := json.Marshal(res)
		if err != nil || len(b) <= a.opts.MaxResponseBytes {
			break
		}
		res.Protocols = res.Protocols[:len(res.Protocols)/2]
		res.Count = len(res.Protocols)
		res.Truncated = true
	}
	return res, nil
}

// CaptureLive captures on an interface for the requested duration.
func (a *Analyzer) CaptureLive(ctx context.Context, req LiveRequest) (res *CaptureResult, err error) {
	ctx, c := a.begin(ctx, "capture_live", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	if err := a.validateLive(req); err != nil {
		return nil, err
	}

	release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := a.checkInterface(ctx, req.Interface); err != nil {
		return nil, err
	}

	args := tshark.LiveArgs(req.Interface, req.Duration, req.Filter.Capture, req.MaxPackets)
	w, warnings, err := a.collect(ctx, c, args, req.MaxPackets, req.Duration+a.opts.CaptureGrace)
	if err != nil {
		return nil, err
	}
	protos, err := stats.ByProtocol(w, req.TopN)
	if err != nil {
		return nil, err
	}
	res = &CaptureResult{
		Envelope:  newEnvelope(c, w, warnings),
		Source:    req.Interface,
		Filter:    req.Filter.Capture,
		Protocols: protos,
		Anomalies: anomalies(w),
		Traffic:   stats.Traffic(w),
		Detail:    newDetail(w.Records(), a.opts.DetailPackets),
	}
	a.fit(&res.Envelope, res, &res.Detail, tops(res.Protocols)...)
	env = &res.Envelope
	return res, nil
}

// checkInterface fails with interface_not_found unless name matches the
// name or index of a listed interface.
func (a *Analyzer) checkInterface(ctx context.Context, name string) error {
	lctx, cancel := context.WithTimeout(ctx, a.opts.AnalysisTimeout)
	defer cancel()
	ifaces, err := a.src.Interfaces(lctx)
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		if iface.Name == name || strconv.Itoa(iface.Index) == name {
			return nil
		}
	}
	return apperrors.New(apperrors.KindInterfaceNotFound, "no capture interface named %q", name).WithParam("interface")
}

// AnalyzePcap summarizes a capture file.
func (a *Analyzer) AnalyzePcap(ctx context.Context, req FileRequest) (res *CaptureResult, err error) {
	ctx, c := a.begin(ctx, "analyze_pcap", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	info, err := a.openFile(req)
	if err != nil {
		return nil, err
	}
	w, warnings, err := a.offline(ctx, c, tshark.OfflineArgs(req.FilePath, req.Filter.Display, req.MaxPackets), req.MaxPackets)
	if err != nil {
		return nil, err
	}
	protos, err := stats.ByProtocol(w, req.TopN)
	if err != nil {
		return nil, err
	}
	res = &CaptureResult{
		Envelope:  newEnvelope(c, w, warnings),
		Source:    req.FilePath,
		Filter:    req.Filter.Display,
		File:      info,
		Protocols: protos,
		Anomalies: anomalies(w),
		Traffic:   stats.Traffic(w),
		Detail:    newDetail(w.Records(), a.opts.DetailPackets),
	}
	a.fit(&res.Envelope, res, &res.Detail, tops(res.Protocols)...)
	env = &res.Envelope
	return res, nil
}

// PacketStatistics computes the protocol distribution of a capture file
// together with its protocol hierarchy, conversations and traffic summary.
func (a *Analyzer) PacketStatistics(ctx context.Context, req FileRequest) (res *StatisticsResult, err error) {
	ctx, c := a.begin(ctx, "get_packet_statistics", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	info, err := a.openFile(req)
	if err != nil {
		return nil, err
	}
	w, warnings, err := a.offline(ctx, c, tshark.OfflineArgs(req.FilePath, req.Filter.Display, req.MaxPackets), req.MaxPackets)
	if err != nil {
		return nil, err
	}
	protos, err := stats.ByProtocol(w, req.TopN)
	if err != nil {
		return nil, err
	}
	res = &StatisticsResult{
		Envelope:      newEnvelope(c, w, warnings),
		File:          info,
		Filter:        req.Filter.Display,
		Protocols:     protos,
		Hierarchy:     stats.Hierarchy(w),
		Conversations: stats.Conversations(w, req.TopN),
		Traffic:       stats.Traffic(w),
	}
	a.fit(&res.Envelope, res, nil, tops(res.Protocols, res.Conversations)...)
	env = &res.Envelope
	return res, nil
}

// ExtractFields computes value statistics for each requested field.
func (a *Analyzer) ExtractFields(ctx context.Context, req FieldsRequest) (res *FieldsResult, err error) {
	ctx, c := a.begin(ctx, "extract_fields", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	info, err := a.openFile(req.FileRequest)
	if err != nil {
		return nil, err
	}
	fields := dedupe(req.Fields)
	args := tshark.FieldArgs(req.FilePath, fields, req.Filter.Display, req.MaxPackets)
	w, warnings, err := a.offline(ctx, c, args, req.MaxPackets)
	if err != nil {
		return nil, err
	}
	res = &FieldsResult{
		Envelope: newEnvelope(c, w, warnings),
		File:     info,
		Filter:   req.Filter.Display,
		Fields:   make([]*stats.Result, 0, len(fields)),
	}
	for _, f := range fields {
		r, err := stats.ByField(w, f, req.TopN)
		if err != nil {
			return nil, err
		}
		res.Fields = append(res.Fields, r)
	}
	a.fit(&res.Envelope, res, nil, tops(res.Fields...)...)
	env = &res.Envelope
	return res, nil
}

// AnalyzeProtocols restricts the analysis to the packets carrying one
// protocol and reports how they break down.
func (a *Analyzer) AnalyzeProtocols(ctx context.Context, req ProtocolRequest) (res *ProtocolResult, err error) {
	ctx, c := a.begin(ctx, "analyze_protocols", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	req.Protocol = strings.ToLower(strings.TrimSpace(req.Protocol))
	freq := FileRequest{
		FilePath:   req.FilePath,
		Filter:     FilterSpec{Display: req.Protocol},
		MaxPackets: req.MaxPackets,
		TopN:       req.TopN,
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	info, err := a.openFile(freq)
	if err != nil {
		return nil, err
	}
	w, warnings, err := a.offline(ctx, c, tshark.OfflineArgs(req.FilePath, req.Protocol, req.MaxPackets), req.MaxPackets)
	if err != nil {
		return nil, err
	}
	dist, err := stats.ByProtocol(w, req.TopN)
	if err != nil {
		return nil, err
	}
	res = &ProtocolResult{
		Envelope:      newEnvelope(c, w, warnings),
		File:          info,
		Protocol:      req.Protocol,
		Distribution:  dist,
		Conversations: stats.Conversations(w, req.TopN),
		Traffic:       stats.Traffic(w),
		Detail:        newDetail(w.Records(), a.opts.DetailPackets),
	}
	if req.Protocol != "" {
		res.TopFields = stats.FieldPresence(w, req.Protocol, req.TopN)
	}
	a.fit(&res.Envelope, res, &res.Detail, append(tops(res.Distribution, res.Conversations), &res.TopFields)...)
	env = &res.Envelope
	return res, nil
}

// AnalyzeErrors classifies the anomalies of a capture file. tshark
// pre-selects candidate packets with the display filter of the requested
// category, so the window holds candidates only.
func (a *Analyzer) AnalyzeErrors(ctx context.Context, req ErrorsRequest) (res *ErrorsResult, err error) {
	ctx, c := a.begin(ctx, "analyze_errors", req)
	var env *Envelope
	defer func() { c.done(ctx, err, envelopeAttrs(env)...) }()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	typ, err := classify.ParseType(req.ErrorType)
	if err != nil {
		return nil, err
	}
	info, err := a.openFile(FileRequest{FilePath: req.FilePath, MaxPackets: req.MaxPackets, TopN: req.TopN})
	if err != nil {
		return nil, err
	}
	w, warnings, err := a.offline(ctx, c, tshark.OfflineArgs(req.FilePath, typ.DisplayFilter(), req.MaxPackets), req.MaxPackets)
	if err != nil {
		return nil, err
	}
	cls := classify.Classify(w, typ)
	primary, err := stats.ByErrorType(w, req.TopN)
	if err != nil {
		return nil, err
	}
	res = &ErrorsResult{
		Envelope:  newEnvelope(c, w, warnings),
		File:      info,
		ErrorType: string(typ),
		Total:     cls.Total,
		Counts:    make(map[string]int, len(cls.Counts)),
		Primary:   primary,
		Detail:    newDetail(cls.Matches, a.opts.DetailPackets),
	}
	for t, n := range cls.Counts {
		res.Counts[string(t)] = n
	}
	a.fit(&res.Envelope, res, &res.Detail, tops(res.Primary)...)
	env = &res.Envelope
	return res, nil
}

// openFile validates a file request and inspects the capture before any
// process is started.
func (a *Analyzer) openFile(req FileRequest) (*capfile.Info, error) {
	if err := a.validateFile(req); err != nil {
		return nil, err
	}
	return capfile.Inspect(req.FilePath)
}

func (a *Analyzer) offline(ctx context.Context, c *call, args []string, limit int) (*packet.Window, []Warning, error) {
	release, err := a.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()
	return a.collect(ctx, c, args, limit, a.opts.AnalysisTimeout)
}

func envelopeAttrs(env *Envelope) []any {
	if env == nil {
		return nil
	}
	return []any{"packets", env.Window.Packets, "truncated", env.Window.Truncated, "status", env.Status}
}

// dedupe drops repeated names, keeping the first occurrence.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
