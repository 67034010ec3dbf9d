package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mcpcheck/internal/faults"
)

func echoServe(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if _, err := w.Write(append(scanner.Bytes(), '\n')); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func TestPipe_RoundTrip(t *testing.T) {
	p := NewPipe(echoServe)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.Send([]byte("hello\n")))
	line, err := bufio.NewReader(p.Receive()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestPipe_ServerReturnClosesStream(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipe(func(ctx context.Context, r io.Reader, w io.Writer) error {
		return boom
	})
	require.NoError(t, p.Start(context.Background()))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}

	data, err := io.ReadAll(p.Receive())
	assert.NoError(t, err)
	assert.Empty(t, data)
	assert.ErrorIs(t, p.ExitErr(), boom)
	assert.True(t, faults.Is(p.Send([]byte("x\n")), faults.KindTransport))
	assert.NoError(t, p.Stop())
}

func TestPipe_StopIsIdempotent(t *testing.T) {
	p := NewPipe(echoServe)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	<-p.Done()
}

func TestPipe_StopUnblocksStuckWriter(t *testing.T) {
	p := NewPipe(func(ctx context.Context, r io.Reader, w io.Writer) error {
		// Nobody reads this
		_, err := w.Write([]byte("unread\n"))
		return err
	})
	p.grace = 20 * time.Millisecond
	require.NoError(t, p.Start(context.Background()))

	assert.NoError(t, p.Stop())
}

func TestPipe_NilServe(t *testing.T) {
	p := NewPipe(nil)
	assert.True(t, faults.IsStartupFailure(p.Start(context.Background())))
}
