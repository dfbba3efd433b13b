package analysis

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

// FilterSpec holds the two kinds of filter a request may carry. They are
// never interchanged: a capture filter is only handed to a live capture
// and a display filter only to offline analysis.
type FilterSpec struct {
	Capture string `json:"capture_filter,omitempty"` // BPF, tshark -f
	Display string `json:"display_filter,omitempty"` // tshark -Y
}

// LiveRequest asks for a live capture on an interface.
type LiveRequest struct {
	Interface  string        `json:"interface" validate:"required"`
	Duration   time.Duration `json:"duration" validate:"gt=0"`
	Filter     FilterSpec    `json:"filter"`
	MaxPackets int           `json:"max_packets" validate:"gt=0"`
	TopN       int           `json:"top_n" validate:"gte=0"`
}

// FileRequest asks for an analysis of a capture file.
type FileRequest struct {
	FilePath   string     `json:"file_path" validate:"required"`
	Filter     FilterSpec `json:"filter"`
	MaxPackets int        `json:"max_packets" validate:"gt=0"`
	TopN       int        `json:"top_n" validate:"gte=0"`
}

// FieldsRequest asks for value statistics of tshark fields.
type FieldsRequest struct {
	FileRequest
	Fields []string `json:"fields" validate:"required,min=1,max=32,dive,fieldname"`
}

// ProtocolRequest restricts the analysis to one protocol. An empty
// protocol analyzes every packet.
type ProtocolRequest struct {
	FilePath   string `json:"file_path" validate:"required"`
	Protocol   string `json:"protocol" validate:"omitempty,fieldname"`
	MaxPackets int    `json:"max_packets" validate:"gt=0"`
	TopN       int    `json:"top_n" validate:"gte=0"`
}

// ErrorsRequest asks for error classification. An empty error type means
// all.
type ErrorsRequest struct {
	FilePath   string `json:"file_path" validate:"required"`
	ErrorType  string `json:"error_type"`
	MaxPackets int    `json:"max_packets" validate:"gt=0"`
	TopN       int    `json:"top_n" validate:"gte=0"`
}

// fieldNameRe matches tshark field and protocol names such as "ip.src",
// "http.request.uri" or "_ws.malformed".
var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("fieldname", func(fl validator.FieldLevel) bool {
		return fieldNameRe.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// validateStruct runs the struct tag rules and converts the first failure
// into an invalid_input error naming the parameter.
func validateStruct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var vErr validator.ValidationErrors
	if !errors.As(err, &vErr) || len(vErr) == 0 {
		return apperrors.Wrap(apperrors.KindInvalidInput, err, "invalid request")
	}
	fe := vErr[0]
	param, _, _ := strings.Cut(fe.Field(), "[")
	return apperrors.InvalidParam(param, "%s", describe(param, fe))
}

func describe(param string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", param, fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must not be negative, got %v", param, fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s must list between 1 and 32 entries", param)
	case "fieldname":
		return fmt.Sprintf("%q is not a valid field or protocol name", fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", param, fe.Tag())
	}
}

func (a *Analyzer) checkLimits(maxPackets int) error {
	if maxPackets > a.opts.MaxPacketsLimit {
		return apperrors.InvalidParam("max_packets", "max_packets must not exceed %d, got %d", a.opts.MaxPacketsLimit, maxPackets)
	}
	return nil
}

func (a *Analyzer) validateLive(req LiveRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.Duration > a.opts.MaxDuration {
		return apperrors.InvalidParam("duration", "duration must not exceed %s, got %s", a.opts.MaxDuration, req.Duration)
	}
	if req.Filter.Display != "" {
		return apperrors.InvalidParam("filter", "live captures take a capture (BPF) filter, not a display filter")
	}
	return a.checkLimits(req.MaxPackets)
}

func (a *Analyzer) validateFile(req FileRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.Filter.Capture != "" {
		return apperrors.InvalidParam("filter", "capture files take a display filter, not a capture (BPF) filter")
	}
	return a.checkLimits(req.MaxPackets)
}
