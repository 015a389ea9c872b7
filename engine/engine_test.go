package engine

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aTiKhan/MailKit/xlog"
)

// fakeServer reads lines off one end of a net.Pipe and writes scripted
// responses, simulating just enough of an IMAP server to drive Session
// through a greeting and a command round trip with an interleaved untagged
// update.
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeServer) send(line string) {
	_, _ = f.conn.Write([]byte(line))
}

// readTag reads one client line and returns its leading tag token.
func (f *fakeServer) readTag() string {
	line, _ := f.r.ReadString('\n')
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

type recordingMetrics struct {
	mu       sync.Mutex
	commands []string
	statuses []string
	untagged []string
}

func (m *recordingMetrics) ObserveCommand(command, status string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) ObserveUntagged(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.untagged = append(m.untagged, kind)
}

func (m *recordingMetrics) SetDisconnected() {}

func TestSessionLoginWithInterleavedUntagged(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		srv.send("* OK IMAP4rev1 Service Ready\r\n")
		tag := srv.readTag()
		srv.send("* 1 EXISTS\r\n")
		srv.send(tag + " OK LOGIN completed\r\n")
	}()

	sess := New(clientConn, xlog.New("test", nil))
	metrics := &recordingMetrics{}
	sess.SetMetrics(metrics)

	ctx := context.Background()
	_, err := sess.ReadGreeting(ctx)
	require.NoError(t, err)
	require.Equal(t, NotAuthenticated, sess.State())

	err = sess.Login(ctx, "user", "pass")
	require.NoError(t, err)
	require.Equal(t, Authenticated, sess.State())

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	require.Contains(t, metrics.commands, "LOGIN")
	require.Contains(t, metrics.statuses, "ok")
	require.Contains(t, metrics.untagged, "Exists")
}

func TestSessionLoginRejectedStaysNotAuthenticated(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		srv.send("* OK IMAP4rev1 Service Ready\r\n")
		tag := srv.readTag()
		srv.send(tag + " NO [AUTHENTICATIONFAILED] invalid credentials\r\n")
	}()

	sess := New(clientConn, xlog.New("test", nil))
	ctx := context.Background()
	_, err := sess.ReadGreeting(ctx)
	require.NoError(t, err)

	err = sess.Login(ctx, "user", "wrong")
	require.Error(t, err)
	require.Equal(t, NotAuthenticated, sess.State())

	var e Error
	require.ErrorAs(t, err, &e)
	require.False(t, e.Fatal)
	require.Equal(t, "no", commandStatus(err))
}

func TestTaggedBADDisconnectsSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		srv.send("* OK IMAP4rev1 Service Ready\r\n")
		tag := srv.readTag()
		srv.send(tag + " BAD unknown command\r\n")
	}()

	sess := New(clientConn, xlog.New("test", nil))
	ctx := context.Background()
	_, err := sess.ReadGreeting(ctx)
	require.NoError(t, err)

	_, err = sess.Capability(ctx)
	require.Error(t, err)
	var e Error
	require.ErrorAs(t, err, &e)
	require.True(t, e.Fatal)
	require.Equal(t, Disconnected, sess.State())
}

func TestCancelAfterWriteDisconnectsSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := newFakeServer(serverConn)
	go func() {
		srv.send("* OK IMAP4rev1 Service Ready\r\n")
		srv.readTag()
		// never sends a tagged completion; the client's ctx cancellation
		// below must be what ends the round trip.
	}()

	sess := New(clientConn, xlog.New("test", nil))
	ctx := context.Background()
	_, err := sess.ReadGreeting(ctx)
	require.NoError(t, err)

	cmdCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = sess.Capability(cmdCtx)
	require.Error(t, err)
	// the AfterFunc closure that flips s.state runs on its own goroutine and
	// only acquires s.mu once execute releases it, so it may still be
	// in flight at the instant Capability returns.
	require.Eventually(t, func() bool { return sess.State() == Disconnected }, time.Second, time.Millisecond)
}

func TestCommandStatusClassification(t *testing.T) {
	require.Equal(t, "ok", commandStatus(nil))
	require.Equal(t, "cancelled", commandStatus(ErrCancelled))
	require.Equal(t, "error", commandStatus(newFatal(context.DeadlineExceeded)))
	require.Equal(t, "no", commandStatus(newNonFatal(context.Canceled)))
}
