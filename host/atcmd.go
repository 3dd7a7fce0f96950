package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultModuleName is advertised by the Bluetooth serial module.
const DefaultModuleName = "GoCycling"

// ATTimeout bounds one AT exchange.
const ATTimeout = time.Second

// ErrATResponse is returned when the module answers an AT command with
// something other than OK.
var ErrATResponse = errors.New("host: unexpected AT response")

// ExecAT writes an AT command and reads the module's reply. The reply to
// AT+XXXX is OK+XXXX, which has the same length as the command. rw.Read may
// return 0 bytes when nothing is buffered; ExecAT then polls until ctx is done.
// It must run before receive interrupts are enabled.
func ExecAT(ctx context.Context, rw io.ReadWriter, cmd string) ([]byte, error) {
	if _, err := io.WriteString(rw, cmd); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}

	resp := make([]byte, len(cmd))
	got := 0
	for got < len(resp) {
		n, err := rw.Read(resp[got:])
		got += n
		if err != nil && !errors.Is(err, io.EOF) {
			return resp[:got], fmt.Errorf("read reply to %q: %w", cmd, err)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return resp[:got], fmt.Errorf("reply to %q after %d/%d bytes: %w", cmd, got, len(resp), ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}

	if !bytes.HasPrefix(resp, []byte("OK")) {
		return resp, fmt.Errorf("%q answered %q: %w", cmd, resp, ErrATResponse)
	}
	return resp, nil
}

// ConfigureModule names the Bluetooth serial module.
func ConfigureModule(ctx context.Context, rw io.ReadWriter, name string) error {
	if name == "" {
		name = DefaultModuleName
	}
	ctx, cancel := context.WithTimeout(ctx, ATTimeout)
	defer cancel()
	if _, err := ExecAT(ctx, rw, "AT+NAME="+name); err != nil {
		return fmt.Errorf("configure module: %w", err)
	}
	return nil
}
