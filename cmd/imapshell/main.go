// Command imapshell is a small interactive-ish exerciser for the engine and
// mailbox layers: connect, authenticate, open a folder, and run one
// operation against it. It exists to drive the stack end to end against a
// real server, not as a full mail client.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aTiKhan/MailKit/auth"
	"github.com/aTiKhan/MailKit/engine"
	"github.com/aTiKhan/MailKit/imapmetrics"
	"github.com/aTiKhan/MailKit/imaptype"
	"github.com/aTiKhan/MailKit/mailbox"
	"github.com/aTiKhan/MailKit/transport"
	"github.com/aTiKhan/MailKit/wire"
	"github.com/aTiKhan/MailKit/xlog"
)

var logLevels = map[string]xlog.Level{
	"error":      xlog.LevelError,
	"info":       xlog.LevelInfo,
	"debug":      xlog.LevelDebug,
	"trace":      xlog.LevelTrace,
	"traceauth":  xlog.LevelTraceAuth,
	"tracedata":  xlog.LevelTraceData,
}

func main() {
	addr := flag.String("addr", "", "host:port of the IMAP server")
	user := flag.String("user", "", "login username")
	pass := flag.String("pass", "", "login password")
	mechanism := flag.String("mechanism", "LOGIN", "LOGIN, PLAIN, CRAM-MD5, SCRAM-SHA-1 or SCRAM-SHA-256")
	folder := flag.String("folder", "INBOX", "mailbox to open before running the command")
	readonly := flag.Bool("readonly", false, "EXAMINE the folder instead of SELECT")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	plainTCP := flag.Bool("plaintext", false, "connect without TLS, useful against localhost test servers")
	loglevel := flag.String("loglevel", "info", "error, info, debug, trace, traceauth or tracedata")
	metricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address while the command runs")
	compress := flag.Bool("compress", false, "negotiate COMPRESS=DEFLATE after authentication")
	flag.Parse()

	if *addr == "" || *user == "" {
		fmt.Fprintln(os.Stderr, "usage: imapshell -addr host:port -user ... -pass ... <command> [args...]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "missing command: list | fetch <uid> | search <criteria> | idle")
		os.Exit(2)
	}

	level, ok := logLevels[strings.ToLower(*loglevel)]
	if !ok {
		log.Fatalf("unknown loglevel %q", *loglevel)
	}
	xlog.SetLevel(level)

	var reg *prometheus.Registry
	if *metricsAddr != "" {
		reg = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := connect(ctx, *addr, *plainTCP, *insecure)
	xcheckf(err, "connect")

	if reg != nil {
		sess.SetMetrics(imapmetrics.New(reg))
	}

	xcheckf(authenticate(ctx, sess, *mechanism, *user, *pass), "authenticate")

	if *compress {
		err := sess.CompressDeflate(ctx, func(c transport.Conn) transport.Conn { return transport.NewDeflateConn(c) })
		if _, unavailable := err.(engine.ErrCapabilityUnavailable); err != nil && !unavailable {
			xcheckf(err, "compress")
		}
	}

	mb := mailbox.New(sess)
	access := mailbox.AccessReadWrite
	if *readonly {
		access = mailbox.AccessReadOnly
	}
	f, err := mb.Open(ctx, *folder, access, nil)
	xcheckf(err, "open folder")

	switch args[0] {
	case "list":
		cmdList(ctx, mb, f)
	case "fetch":
		if len(args) < 2 {
			log.Fatal("fetch requires a UID argument")
		}
		cmdFetch(ctx, mb, args[1])
	case "search":
		cmdSearch(ctx, mb, strings.Join(args[1:], " "))
	case "idle":
		cmdIdle(ctx, sess)
	default:
		log.Fatalf("unknown command %q", args[0])
	}

	xcheckf(sess.Logout(ctx), "logout")
}

func connect(ctx context.Context, addr string, plainTCP, insecure bool) (*engine.Session, error) {
	conn, err := transport.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !plainTCP {
		host := addr
		if i := strings.LastIndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		conn, err = transport.WrapTLS(ctx, conn, &tls.Config{ServerName: host, InsecureSkipVerify: insecure})
		if err != nil {
			return nil, err
		}
	}
	log := xlog.New("imapshell", nil)
	sess := engine.New(conn, log)
	if _, err := sess.ReadGreeting(ctx); err != nil {
		return nil, err
	}
	if _, err := sess.Capability(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

func authenticate(ctx context.Context, sess *engine.Session, mechanism, user, pass string) error {
	switch strings.ToUpper(mechanism) {
	case "LOGIN":
		return sess.Login(ctx, user, pass)
	case "PLAIN":
		return sess.Authenticate(ctx, auth.Plain("", user, pass))
	case "CRAM-MD5":
		return sess.Authenticate(ctx, auth.CramMD5(user, pass))
	case "SCRAM-SHA-1":
		return sess.Authenticate(ctx, auth.SCRAMSHA1(user, pass, nil))
	case "SCRAM-SHA-256":
		return sess.Authenticate(ctx, auth.SCRAMSHA256(user, pass, nil))
	default:
		return fmt.Errorf("unknown mechanism %q", mechanism)
	}
}

func cmdList(ctx context.Context, mb *mailbox.Client, f *mailbox.Folder) {
	req := imaptype.NewFetchRequest(imaptype.FieldUID, imaptype.FieldFlags, imaptype.FieldEnvelope)
	if f.Count == 0 {
		fmt.Println("(empty folder)")
		return
	}
	summaries, err := mb.FetchRange(ctx, false, 1, f.Count, req)
	xcheckf(err, "fetch")
	for _, s := range summaries {
		subject := ""
		if s.Envelope != nil {
			subject = s.Envelope.Subject
		}
		fmt.Printf("%-6d %s\n", s.UID.Value, subject)
	}
}

func cmdFetch(ctx context.Context, mb *mailbox.Client, uidArg string) {
	uid, err := strconv.ParseUint(uidArg, 10, 32)
	xcheckf(err, "parse uid")
	body, err := mb.GetMessage(ctx, uint32(uid))
	xcheckf(err, "get message")
	os.Stdout.Write(body)
}

func cmdSearch(ctx context.Context, mb *mailbox.Client, criteria string) {
	nums, err := mb.Search(ctx, false, imaptype.Term(criteria))
	xcheckf(err, "search")
	for _, n := range nums {
		fmt.Println(n)
	}
}

func cmdIdle(ctx context.Context, sess *engine.Session) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()
	sess.AddListener(func(u wire.Untagged) {
		fmt.Printf("* %T\n", u)
	})
	xcheckf(sess.Idle(ctx, stop), "idle")
}

func xcheckf(err error, what string) {
	if err != nil {
		log.Fatalf("%s: %v", what, err)
	}
}
