package tshark

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
	"github.com/jayimu/wireshark-mcp/internal/packet"
)

// shellRunner returns a runner that executes /bin/sh in place of tshark, so
// that args[1] is the script.
func shellRunner(t *testing.T) *Runner {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	r := NewRunner("/bin/sh")
	r.waitDelay = 500 * time.Millisecond
	return r
}

// script builds sh arguments; extra are visible to classification as if
// they were tshark flags.
func script(body string, extra ...string) []string {
	return append([]string{"-c", body, "tshark"}, extra...)
}

func TestStream_ReadsOutput(t *testing.T) {
	r := shellRunner(t)
	var got string
	err := r.Stream(context.Background(), script(`printf 'hello'`), func(rd io.Reader) error {
		b, err := io.ReadAll(rd)
		got = string(b)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Zero(t, r.Registry().Len())
}

func TestStream_DecodesPacketJSON(t *testing.T) {
	r := shellRunner(t)
	body := `printf '[{"_source":{"layers":{"frame.protocols":["eth:ethertype:ip:tcp"]}}},'
printf '{"_source":{"layers":{"frame.protocols":["eth:ethertype:ip:udp"]}}},'
printf '{"_source":{"layers":{"frame.protocols":["eth:ethertype:arp"]}}}]'`
	var w *packet.Window
	err := r.Stream(context.Background(), script(body), func(rd io.Reader) error {
		var err error
		w, err = packet.Decode(rd, 2)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Truncated())
}

func TestStream_EarlyStopIsNotFailure(t *testing.T) {
	r := shellRunner(t)
	body := `i=0; while [ $i -lt 2000 ]; do echo "line $i"; i=$((i+1)); done`
	err := r.Stream(context.Background(), script(body), func(rd io.Reader) error {
		buf := make([]byte, 8)
		_, err := io.ReadFull(rd, buf)
		return err
	})
	require.NoError(t, err)
}

func TestStream_FnErrorKillsProcess(t *testing.T) {
	r := shellRunner(t)
	boom := errors.New("boom")
	start := time.Now()
	err := r.Stream(context.Background(), script(`echo start; exec sleep 30`), func(rd io.Reader) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Zero(t, r.Registry().Len())
}

func TestStream_Timeout(t *testing.T) {
	r := shellRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var got []byte
	err := r.Stream(ctx, script(`echo partial; exec sleep 30`), func(rd io.Reader) error {
		var err error
		got, err = io.ReadAll(rd)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCaptureTimeout, apperrors.KindOf(err))
	assert.Equal(t, "partial\n", string(got))
}

func TestStream_ExitClassification(t *testing.T) {
	tests := []struct {
		name      string
		stderr    string
		flags     []string
		wantKind  apperrors.Kind
		wantParam string
	}{
		{
			name:      "display filter",
			stderr:    `tshark: "tcpp" is neither a field nor a protocol name.`,
			flags:     []string{"-r", "x.pcap", "-Y", "tcpp"},
			wantKind:  apperrors.KindInvalidDisplayFilter,
			wantParam: "filter",
		},
		{
			name:      "capture filter",
			stderr:    `tshark: Invalid capture filter "port eighty" for interface 'eth0'.`,
			flags:     []string{"-i", "eth0", "-f", "port eighty"},
			wantKind:  apperrors.KindInvalidCaptureFilter,
			wantParam: "filter",
		},
		{
			name:      "interface",
			stderr:    `tshark: The capture session could not be initiated on interface 'nope0' (No such device exists).`,
			flags:     []string{"-i", "nope0"},
			wantKind:  apperrors.KindInterfaceNotFound,
			wantParam: "interface",
		},
		{
			name:      "bad field",
			stderr:    `tshark: Some fields aren't valid:\n\tfoo.bar`,
			flags:     []string{"-r", "x.pcap", "-e", "foo.bar"},
			wantKind:  apperrors.KindInvalidInput,
			wantParam: "fields",
		},
		{
			name:     "other",
			stderr:   `tshark: something else went wrong`,
			flags:    []string{"-r", "x.pcap"},
			wantKind: apperrors.KindExternalToolFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := shellRunner(t)
			body := `printf '%s\n' $STDERR_TEXT >&2; exit 2`
			args := script(strings.Replace(body, "$STDERR_TEXT", shellQuote(tt.stderr), 1), tt.flags...)
			err := r.Stream(context.Background(), args, func(rd io.Reader) error {
				_, err := io.ReadAll(rd)
				return err
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperrors.KindOf(err))
			p := apperrors.Describe(err)
			assert.Equal(t, tt.wantParam, p.Param)
			assert.Contains(t, p.Message, "tshark:")
		})
	}
}

func shellQuote(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `'\''`) + `'`
}

func TestStream_NotFound(t *testing.T) {
	r := NewRunner("/nonexistent/tshark")
	err := r.Stream(context.Background(), []string{"-v"}, func(io.Reader) error { return nil })
	require.Error(t, err)
	assert.Equal(t, apperrors.KindExternalToolNotFound, apperrors.KindOf(err))
}

func TestStream_StderrLimit(t *testing.T) {
	r := shellRunner(t)
	r.stderrLimit = 16
	err := r.Stream(context.Background(), script(`printf 'tshark: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa' >&2; exit 1`), func(rd io.Reader) error {
		_, err := io.ReadAll(rd)
		return err
	})
	require.Error(t, err)
	msg := apperrors.Describe(err).Message
	assert.Contains(t, msg, "tshark: aaaaaaaa")
	assert.Contains(t, msg, "bytes of stderr dropped")
}

func TestRunner_Version(t *testing.T) {
	r := shellRunner(t)
	out, err := r.Output(context.Background(), script(`printf 'TShark (Wireshark) 4.2.2.\n\nCopyright 1998-2024\n'`)...)
	require.NoError(t, err)
	assert.Equal(t, "TShark (Wireshark) 4.2.2.", ParseVersion(out))
}

func TestResolvePath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		got, err := ResolvePath("/bin/sh")
		require.NoError(t, err)
		assert.Equal(t, "/bin/sh", got)
	})
	t.Run("env base name", func(t *testing.T) {
		t.Setenv(EnvPath, "sh")
		got, err := ResolvePath("")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(got, "/sh"), got)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := ResolvePath("/nonexistent/dir/tshark")
		if err == nil {
			t.Skip("a default tshark install shadows the missing path")
		}
		assert.Equal(t, apperrors.KindExternalToolNotFound, apperrors.KindOf(err))
	})
}
