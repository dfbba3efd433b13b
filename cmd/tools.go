package main

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jayimu/wireshark-mcp/internal/analysis"
	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

const defaultDuration = 10 * time.Second

// registerTools adds one tool per capability to s.
func registerTools(s *server.MCPServer, a *analysis.Analyzer) {
	opts := a.Options()
	maxPackets := mcp.WithNumber("max_packets",
		mcp.Description("Maximum number of packets to analyze; the result reports truncated=true when the source had more"),
		mcp.DefaultNumber(float64(opts.MaxPackets)),
		mcp.Min(1),
		mcp.Max(float64(opts.MaxPacketsLimit)),
	)
	topN := mcp.WithNumber("top_n",
		mcp.Description("Number of entries in each ranked list"),
		mcp.DefaultNumber(float64(opts.TopN)),
		mcp.Min(0),
	)
	filePath := mcp.WithString("file_path",
		mcp.Required(),
		mcp.Description("Path of a pcap or pcapng file readable by the server"),
	)
	displayFilter := mcp.WithString("filter",
		mcp.Description(`Wireshark display filter, e.g. "tcp.port == 443" or "dns"`),
	)

	s.AddTool(
		mcp.NewTool("list_interfaces",
			mcp.WithDescription("List the network interfaces available for live capture"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		NewListInterfacesHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("capture_live",
			mcp.WithDescription("Capture live traffic on an interface and summarize it"),
			mcp.WithString("interface",
				mcp.Required(),
				mcp.Description("Interface name or index as reported by list_interfaces"),
			),
			mcp.WithNumber("duration",
				mcp.Description("Capture duration in seconds"),
				mcp.DefaultNumber(defaultDuration.Seconds()),
				mcp.Max(opts.MaxDuration.Seconds()),
			),
			mcp.WithString("filter",
				mcp.Description(`Capture (BPF) filter, e.g. "tcp port 80" or "host 10.0.0.1"`),
			),
			maxPackets,
			topN,
		),
		NewCaptureLiveHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("analyze_pcap",
			mcp.WithDescription("Summarize a capture file: protocol distribution, anomalies, traffic and per-packet detail"),
			mcp.WithReadOnlyHintAnnotation(true),
			filePath,
			displayFilter,
			maxPackets,
			topN,
		),
		NewAnalyzePcapHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("get_protocols",
			mcp.WithDescription("List the protocols tshark can dissect"),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithString("match",
				mcp.Description("Only list protocols whose name contains this text"),
			),
		),
		NewGetProtocolsHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("get_packet_statistics",
			mcp.WithDescription("Protocol distribution, protocol hierarchy, conversations and traffic totals of a capture file"),
			mcp.WithReadOnlyHintAnnotation(true),
			filePath,
			displayFilter,
			maxPackets,
			topN,
		),
		NewPacketStatisticsHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("extract_fields",
			mcp.WithDescription("Value distribution of tshark fields in a capture file"),
			mcp.WithReadOnlyHintAnnotation(true),
			filePath,
			mcp.WithArray("fields",
				mcp.Required(),
				mcp.Description(`tshark field names, e.g. ["ip.src", "http.host"]`),
				mcp.Items(map[string]any{"type": "string"}),
			),
			displayFilter,
			maxPackets,
			topN,
		),
		NewExtractFieldsHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("analyze_protocols",
			mcp.WithDescription("Analyze only the packets carrying one protocol"),
			mcp.WithReadOnlyHintAnnotation(true),
			filePath,
			mcp.WithString("protocol",
				mcp.Description(`Protocol filter name, e.g. "http" or "dns"; empty analyzes every packet`),
			),
			maxPackets,
			topN,
		),
		NewAnalyzeProtocolsHandler(a).Execute,
	)

	s.AddTool(
		mcp.NewTool("analyze_errors",
			mcp.WithDescription("Find malformed packets and TCP problems such as retransmissions, duplicate ACKs and lost segments"),
			mcp.WithReadOnlyHintAnnotation(true),
			filePath,
			mcp.WithString("error_type",
				mcp.Description("Category to report"),
				mcp.DefaultString("all"),
				mcp.Enum("all", "malformed", "tcp", "retransmission", "duplicate_ack", "lost_segment"),
			),
			maxPackets,
			topN,
		),
		NewAnalyzeErrorsHandler(a).Execute,
	)
}

// toolNames lists the registered tools, for the status page.
var toolNames = []string{
	"list_interfaces",
	"capture_live",
	"analyze_pcap",
	"get_protocols",
	"get_packet_statistics",
	"extract_fields",
	"analyze_protocols",
	"analyze_errors",
}

// ListInterfacesHandler handles the list_interfaces tool
type ListInterfacesHandler struct {
	analyzer *analysis.Analyzer
}

// NewListInterfacesHandler creates a new list interfaces handler
func NewListInterfacesHandler(a *analysis.Analyzer) *ListInterfacesHandler {
	return &ListInterfacesHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *ListInterfacesHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.analyzer.ListInterfaces(ctx)
	return toolResult(res, err)
}

// CaptureLiveHandler handles the capture_live tool
type CaptureLiveHandler struct {
	analyzer *analysis.Analyzer
}

// NewCaptureLiveHandler creates a new live capture handler
func NewCaptureLiveHandler(a *analysis.Analyzer) *CaptureLiveHandler {
	return &CaptureLiveHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *CaptureLiveHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	opts := h.analyzer.Options()

	var (
		req analysis.LiveRequest
		err error
	)
	req.Interface, err = stringArg(args, "interface")
	if err != nil {
		return errorResult(err), nil
	}
	if req.Duration, err = durationArg(args, "duration", defaultDuration); err != nil {
		return errorResult(err), nil
	}
	if req.Filter.Capture, err = stringArg(args, "filter"); err != nil {
		return errorResult(err), nil
	}
	if req.MaxPackets, err = intArg(args, "max_packets", opts.MaxPackets); err != nil {
		return errorResult(err), nil
	}
	if req.TopN, err = intArg(args, "top_n", opts.TopN); err != nil {
		return errorResult(err), nil
	}

	res, err := h.analyzer.CaptureLive(ctx, req)
	return toolResult(res, err)
}

// AnalyzePcapHandler handles the analyze_pcap tool
type AnalyzePcapHandler struct {
	analyzer *analysis.Analyzer
}

// NewAnalyzePcapHandler creates a new capture file handler
func NewAnalyzePcapHandler(a *analysis.Analyzer) *AnalyzePcapHandler {
	return &AnalyzePcapHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *AnalyzePcapHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := fileRequest(request.GetArguments(), h.analyzer.Options())
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.analyzer.AnalyzePcap(ctx, req)
	return toolResult(res, err)
}

// GetProtocolsHandler handles the get_protocols tool
type GetProtocolsHandler struct {
	analyzer *analysis.Analyzer
}

// NewGetProtocolsHandler creates a new protocol list handler
func NewGetProtocolsHandler(a *analysis.Analyzer) *GetProtocolsHandler {
	return &GetProtocolsHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *GetProtocolsHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	match, err := stringArg(request.GetArguments(), "match")
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.analyzer.Protocols(ctx, match)
	return toolResult(res, err)
}

// PacketStatisticsHandler handles the get_packet_statistics tool
type PacketStatisticsHandler struct {
	analyzer *analysis.Analyzer
}

// NewPacketStatisticsHandler creates a new statistics handler
func NewPacketStatisticsHandler(a *analysis.Analyzer) *PacketStatisticsHandler {
	return &PacketStatisticsHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *PacketStatisticsHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := fileRequest(request.GetArguments(), h.analyzer.Options())
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.analyzer.PacketStatistics(ctx, req)
	return toolResult(res, err)
}

// ExtractFieldsHandler handles the extract_fields tool
type ExtractFieldsHandler struct {
	analyzer *analysis.Analyzer
}

// NewExtractFieldsHandler creates a new field extraction handler
func NewExtractFieldsHandler(a *analysis.Analyzer) *ExtractFieldsHandler {
	return &ExtractFieldsHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *ExtractFieldsHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	freq, err := fileRequest(args, h.analyzer.Options())
	if err != nil {
		return errorResult(err), nil
	}
	fields, err := stringSliceArg(args, "fields")
	if err != nil {
		return errorResult(err), nil
	}
	res, err := h.analyzer.ExtractFields(ctx, analysis.FieldsRequest{FileRequest: freq, Fields: fields})
	return toolResult(res, err)
}

// AnalyzeProtocolsHandler handles the analyze_protocols tool
type AnalyzeProtocolsHandler struct {
	analyzer *analysis.Analyzer
}

// NewAnalyzeProtocolsHandler creates a new protocol analysis handler
func NewAnalyzeProtocolsHandler(a *analysis.Analyzer) *AnalyzeProtocolsHandler {
	return &AnalyzeProtocolsHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *AnalyzeProtocolsHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	opts := h.analyzer.Options()

	var (
		req analysis.ProtocolRequest
		err error
	)
	if req.FilePath, err = stringArg(args, "file_path"); err != nil {
		return errorResult(err), nil
	}
	if req.Protocol, err = stringArg(args, "protocol"); err != nil {
		return errorResult(err), nil
	}
	if req.MaxPackets, err = intArg(args, "max_packets", opts.MaxPackets); err != nil {
		return errorResult(err), nil
	}
	if req.TopN, err = intArg(args, "top_n", opts.TopN); err != nil {
		return errorResult(err), nil
	}

	res, err := h.analyzer.AnalyzeProtocols(ctx, req)
	return toolResult(res, err)
}

// AnalyzeErrorsHandler handles the analyze_errors tool
type AnalyzeErrorsHandler struct {
	analyzer *analysis.Analyzer
}

// NewAnalyzeErrorsHandler creates a new error analysis handler
func NewAnalyzeErrorsHandler(a *analysis.Analyzer) *AnalyzeErrorsHandler {
	return &AnalyzeErrorsHandler{analyzer: a}
}

// Execute implements the tool handler
func (h *AnalyzeErrorsHandler) Execute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	opts := h.analyzer.Options()

	var (
		req analysis.ErrorsRequest
		err error
	)
	if req.FilePath, err = stringArg(args, "file_path"); err != nil {
		return errorResult(err), nil
	}
	if req.ErrorType, err = stringArg(args, "error_type"); err != nil {
		return errorResult(err), nil
	}
	if req.MaxPackets, err = intArg(args, "max_packets", opts.MaxPackets); err != nil {
		return errorResult(err), nil
	}
	if req.TopN, err = intArg(args, "top_n", opts.TopN); err != nil {
		return errorResult(err), nil
	}

	res, err := h.analyzer.AnalyzeErrors(ctx, req)
	return toolResult(res, err)
}

// fileRequest reads the arguments shared by the capture file tools.
func fileRequest(args map[string]any, opts analysis.Options) (analysis.FileRequest, error) {
	var (
		req analysis.FileRequest
		err error
	)
	if req.FilePath, err = stringArg(args, "file_path"); err != nil {
		return req, err
	}
	if req.Filter.Display, err = stringArg(args, "filter"); err != nil {
		return req, err
	}
	if req.MaxPackets, err = intArg(args, "max_packets", opts.MaxPackets); err != nil {
		return req, err
	}
	if req.TopN, err = intArg(args, "top_n", opts.TopN); err != nil {
		return req, err
	}
	return req, nil
}

// toolResult renders v as indented JSON, or err as an error result.
func toolResult(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(apperrors.Wrap(apperrors.KindInternal, err, "encode result")), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// errorResult renders err as a structured error with IsError set.
func errorResult(err error) *mcp.CallToolResult {
	jsonBytes, mErr := json.MarshalIndent(apperrors.Describe(err), "", "  ")
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(jsonBytes))
}

// Helper functions to extract typed values from arguments. An absent or
// null argument takes the default; one of the wrong type is invalid input.

func getInt(args map[string]any, key string) (int, bool) {
	val, exists := args[key]
	if !exists {
		return 0, false
	}

	switch v := val.(type) {
	case float64:
		if v != math.Trunc(v) || v < math.MinInt || v >= math.MaxInt {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func getString(args map[string]any, key string) (string, bool) {
	val, exists := args[key]
	if !exists {
		return "", false
	}

	str, ok := val.(string)
	return str, ok
}

func getStringSlice(args map[string]any, key string) ([]string, bool) {
	val, exists := args[key]
	if !exists {
		return nil, false
	}

	switch v := val.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		// a comma separated list is accepted too
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func absent(args map[string]any, key string) bool {
	v, ok := args[key]
	return !ok || v == nil
}

func intArg(args map[string]any, key string, def int) (int, error) {
	if absent(args, key) {
		return def, nil
	}
	v, ok := getInt(args, key)
	if !ok {
		if f, isFloat := args[key].(float64); isFloat && f == math.Trunc(f) {
			return 0, apperrors.InvalidParam(key, "%s is out of range, got %g", key, f)
		}
		return 0, apperrors.InvalidParam(key, "%s must be an integer, got %v", key, args[key])
	}
	return v, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	if absent(args, key) {
		return "", nil
	}
	v, ok := getString(args, key)
	if !ok {
		return "", apperrors.InvalidParam(key, "%s must be a string, got %v", key, args[key])
	}
	return strings.TrimSpace(v), nil
}

func stringSliceArg(args map[string]any, key string) ([]string, error) {
	if absent(args, key) {
		return nil, nil
	}
	v, ok := getStringSlice(args, key)
	if !ok {
		return nil, apperrors.InvalidParam(key, "%s must be a list of strings", key)
	}
	return v, nil
}

func durationArg(args map[string]any, key string, def time.Duration) (time.Duration, error) {
	if absent(args, key) {
		return def, nil
	}
	secs, ok := args[key].(float64)
	if !ok {
		if n, isInt := getInt(args, key); isInt {
			secs, ok = float64(n), true
		}
	}
	if !ok || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, apperrors.InvalidParam(key, "%s must be a number of seconds, got %v", key, args[key])
	}
	return time.Duration(secs * float64(time.Second)), nil
}
